package irobot

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joshp123/gohome-irobot/internal/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	RobotPort = 8883

	DefaultPairAttemptTimeout = 5 * time.Second
	DefaultPairInterval       = 20 * time.Second
	DefaultPairWindow         = 60 * time.Second

	secretOffset      = 13
	shortSecretOffset = 9
	switchChunkLen    = 2
	ignoredChunkLen   = 7
)

var pairingChallenge = []byte{0xf0, 0x05, 0xef, 0xcc, 0x3b, 0x29, 0x00}

var (
	// ErrAddressBusy means another client holds the robot's control channel.
	ErrAddressBusy       = errors.New("robot address busy")
	ErrHandshakeTimeout  = errors.New("pairing handshake timed out")
	ErrPairWindowExpired = errors.New("pairing window expired")
	// ErrMalformedReply means the terminal chunk ended before the secret.
	ErrMalformedReply = errors.New("malformed pairing reply")
)

// robotTLSConfig matches what the robot firmware accepts. Robots present
// self-signed certificates, so verification is disabled.
func robotTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // self-signed robot certificates
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_RSA_WITH_AES_128_CBC_SHA256,
			tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// FetchSecret performs the one-shot credential exchange with a robot that is
// in pairing mode.
func FetchSecret(ctx context.Context, address string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultPairAttemptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &tls.Dialer{Config: robotTLSConfig()}
	conn, err := dialer.DialContext(ctx, "tcp", withPort(address, RobotPort))
	if err != nil {
		return "", classifyPairError(ctx, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(pairingChallenge); err != nil {
		return "", classifyPairError(ctx, err)
	}

	offset := secretOffset
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		switch {
		case n == switchChunkLen:
			offset = shortSecretOffset
		case n > ignoredChunkLen:
			if n <= offset {
				return "", fmt.Errorf("%w: %d bytes with secret at offset %d", ErrMalformedReply, n, offset)
			}
			return strings.TrimRight(string(buf[offset:n]), "\x00"), nil
		}
		if err != nil {
			return "", classifyPairError(ctx, err)
		}
	}
}

func classifyPairError(ctx context.Context, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %w", ErrAddressBusy, err)
	case ctx.Err() != nil, errors.Is(err, io.EOF), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", ErrHandshakeTimeout, err)
	}
	return fmt.Errorf("pairing exchange: %w", err)
}

func withPort(address string, port int) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(port))
}

// PairOptions bounds the button-press retry loop.
type PairOptions struct {
	Attempt  time.Duration
	Interval time.Duration
	Window   time.Duration
	Logger   *zap.Logger

	fetch func(ctx context.Context, address string, timeout time.Duration) (string, error)
}

// Pair retries FetchSecret every Interval until it succeeds or Window
// elapses. On expiry the error wraps ErrPairWindowExpired and the last
// attempt's error.
func Pair(ctx context.Context, address string, opts PairOptions) (string, error) {
	if opts.Attempt <= 0 {
		opts.Attempt = DefaultPairAttemptTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPairInterval
	}
	if opts.Window <= 0 {
		opts.Window = DefaultPairWindow
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	fetch := opts.fetch
	if fetch == nil {
		fetch = FetchSecret
	}
	log := opts.Logger.Named("pair").With(zap.String("ip", address))

	windowCtx, cancel := context.WithTimeout(ctx, opts.Window)
	defer cancel()
	limiter := rate.NewLimiter(rate.Every(opts.Interval), 1)

	var lastErr error
	for {
		if err := limiter.Wait(windowCtx); err != nil {
			break
		}
		timeout := opts.Attempt
		if deadline, ok := windowCtx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}

		attemptID := uuid.NewString()
		log.Info("pairing attempt", zap.String("attempt_id", attemptID), zap.Duration("timeout", timeout))
		secret, err := fetch(windowCtx, address, timeout)
		if err == nil {
			log.Info("pairing succeeded", zap.String("attempt_id", attemptID))
			return secret, nil
		}
		lastErr = err
		log.Info("pairing attempt failed", zap.String("attempt_id", attemptID), zap.Error(err))
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if lastErr == nil {
		return "", ErrPairWindowExpired
	}
	return "", errors.Join(ErrPairWindowExpired, lastErr)
}

// PairRobot runs Pair against a discovered robot and saves its address and
// credentials. The username is the robot's credential hint.
func PairRobot(ctx context.Context, st store.Store, r Robot, opts PairOptions) (store.Record, error) {
	if r.Address == "" {
		return store.Record{}, fmt.Errorf("%s: %w", r.ID, ErrInvalidHost)
	}
	if r.CredentialHint == "" {
		return store.Record{}, fmt.Errorf("%s: %w", r.ID, ErrInvalidUsername)
	}
	secret, err := Pair(ctx, r.Address, opts)
	if err != nil {
		return store.Record{}, fmt.Errorf("pair %s: %w", r.ID, err)
	}
	record := store.Record{
		IP:   r.Address,
		Auth: &store.Auth{Username: r.CredentialHint, Password: secret},
	}
	if err := st.Save(ctx, r.ID, record); err != nil {
		return store.Record{}, fmt.Errorf("save %s: %w", r.ID, err)
	}
	return record, nil
}
