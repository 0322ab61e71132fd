package irobot

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshp123/gohome-irobot/internal/store"
	"github.com/joshp123/gohome-irobot/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveChunks accepts one connection, checks the challenge and writes each
// chunk as its own TLS record.
func serveChunks(t *testing.T, ln net.Listener, chunks ...[]byte) <-chan []byte {
	t.Helper()
	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		challenge := make([]byte, len(pairingChallenge))
		if _, err := io.ReadFull(conn, challenge); err != nil {
			got <- nil
			return
		}
		got <- challenge
		for _, c := range chunks {
			if _, err := conn.Write(c); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		time.Sleep(200 * time.Millisecond)
	}()
	return got
}

func secretChunk(offset int, secret string) []byte {
	chunk := make([]byte, offset, offset+len(secret)+1)
	chunk = append(chunk, secret...)
	return append(chunk, 0)
}

func TestFetchSecretShortOffset(t *testing.T) {
	ln := testutil.TLSListener(t)
	got := serveChunks(t, ln, []byte{0xf0, 0x23}, secretChunk(9, ":1:1600000000:abcdef"))

	secret, err := FetchSecret(context.Background(), ln.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, ":1:1600000000:abcdef", secret)
	assert.Equal(t, pairingChallenge, <-got)
}

func TestFetchSecretDefaultOffsetIgnoresShortChunks(t *testing.T) {
	ln := testutil.TLSListener(t)
	serveChunks(t, ln, []byte{1, 2, 3, 4, 5, 6, 7}, secretChunk(13, "secret-password"))

	secret, err := FetchSecret(context.Background(), ln.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "secret-password", secret)
}

func TestFetchSecretChunkShorterThanOffset(t *testing.T) {
	ln := testutil.TLSListener(t)
	serveChunks(t, ln, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	_, err := FetchSecret(context.Background(), ln.Addr().String(), 2*time.Second)
	require.ErrorIs(t, err, ErrMalformedReply)
	assert.NotErrorIs(t, err, ErrHandshakeTimeout)
	assert.NotErrorIs(t, err, ErrAddressBusy)
}

func TestFetchSecretTimeout(t *testing.T) {
	ln := testutil.TLSListener(t)
	serveChunks(t, ln, []byte{0xf0, 0x23})

	_, err := FetchSecret(context.Background(), ln.Addr().String(), 100*time.Millisecond)
	require.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestFetchSecretRobotClosesFirst(t *testing.T) {
	ln := testutil.TLSListener(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		challenge := make([]byte, len(pairingChallenge))
		_, _ = io.ReadFull(conn, challenge)
		_ = conn.Close()
	}()

	_, err := FetchSecret(context.Background(), ln.Addr().String(), time.Second)
	require.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestFetchSecretAddressBusy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = FetchSecret(context.Background(), addr, time.Second)
	require.ErrorIs(t, err, ErrAddressBusy)
}

func TestWithPort(t *testing.T) {
	assert.Equal(t, "10.0.0.5:8883", withPort("10.0.0.5", RobotPort))
	assert.Equal(t, "10.0.0.5:1234", withPort("10.0.0.5:1234", RobotPort))
}

func TestPairRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	secret, err := Pair(context.Background(), "10.0.0.5", PairOptions{
		Attempt:  10 * time.Millisecond,
		Interval: 10 * time.Millisecond,
		Window:   2 * time.Second,
		fetch: func(context.Context, string, time.Duration) (string, error) {
			if calls.Add(1) < 3 {
				return "", ErrAddressBusy
			}
			return "pw", nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "pw", secret)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPairWindowExpiredKeepsLastError(t *testing.T) {
	var calls atomic.Int32
	start := time.Now()
	_, err := Pair(context.Background(), "10.0.0.5", PairOptions{
		Attempt:  10 * time.Millisecond,
		Interval: 40 * time.Millisecond,
		Window:   150 * time.Millisecond,
		fetch: func(context.Context, string, time.Duration) (string, error) {
			calls.Add(1)
			return "", ErrHandshakeTimeout
		},
	})
	require.ErrorIs(t, err, ErrPairWindowExpired)
	require.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.False(t, errors.Is(err, ErrAddressBusy))
	assert.Less(t, time.Since(start), time.Second)
	assert.LessOrEqual(t, calls.Load(), int32(5), "attempts must be paced by the interval")
}

func TestPairCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Pair(ctx, "10.0.0.5", PairOptions{
		fetch: func(context.Context, string, time.Duration) (string, error) {
			return "", ErrAddressBusy
		},
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPairRobotStoresSecret(t *testing.T) {
	st := store.NewMemoryStore()
	r := Robot{ID: "aa:bb:cc:dd:ee:ff", Address: "10.0.0.5", CredentialHint: "3115850251687850"}
	opts := PairOptions{
		Interval: 10 * time.Millisecond,
		Window:   time.Second,
		fetch: func(_ context.Context, address string, _ time.Duration) (string, error) {
			assert.Equal(t, "10.0.0.5", address)
			return ":1:1600000000:secret", nil
		},
	}

	record, err := PairRobot(context.Background(), st, r, opts)
	require.NoError(t, err)
	require.True(t, record.HasAuth())
	assert.Equal(t, "3115850251687850", record.Auth.Username)
	assert.Equal(t, ":1:1600000000:secret", record.Auth.Password)

	saved, err := st.Load(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, record, saved)

	_, err = PairRobot(context.Background(), st, Robot{ID: "x", Address: "10.0.0.6"}, opts)
	require.ErrorIs(t, err, ErrInvalidUsername)
	_, err = PairRobot(context.Background(), st, Robot{ID: "x", CredentialHint: "hint"}, opts)
	require.ErrorIs(t, err, ErrInvalidHost)
}
