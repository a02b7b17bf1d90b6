package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/andresmejia3/keyframer/internal/utils" // Using the SafeCommand wrapper
)

// maxMessage caps a single response so a misbehaving child cannot make us allocate gigabytes.
const maxMessage = 64 * 1024 * 1024

const (
	statusOK    = 0
	statusError = 1
)

// EncoderWorker drives an external embedding process.
//
// Protocol, all integers big-endian:
//
//	request:  [len uint32][jpeg bytes]
//	response: [len uint32][status byte][body]
//	  status 0: [dims uint32][dims x float32]
//	  status 1: [msgLen uint32][msg]
//
// Requests go to the child's stdin; responses come back on a dedicated pipe that the child
// sees as file descriptor 3, keeping its stdout and stderr free for logging.
type EncoderWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu sync.Mutex
}

// NewEncoderWorker starts name with args and wires up the side-channel pipe.
func NewEncoderWorker(ctx context.Context, id int, name string, args ...string) (*EncoderWorker, error) {
	proc := utils.NewSafeCommand(ctx, name, args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &EncoderWorker{
		ID:       id,
		Cmd:      proc,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one length-prefixed message and reads one length-prefixed reply.
func (w *EncoderWorker) Communicate(data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // a crashed child surfaces here as EOF
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxMessage {
		return nil, fmt.Errorf("worker %d response of %d bytes exceeds limit", w.ID, respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// EmbedFrame sends one JPEG and decodes the embedding the child returns.
func (w *EncoderWorker) EmbedFrame(jpeg []byte) ([]float64, error) {
	resp, err := w.Communicate(jpeg)
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

func decodeResponse(resp []byte) ([]float64, error) {
	r := bytes.NewReader(resp)
	status, err := r.ReadByte()
	if err != nil {
		return nil, errors.New("empty worker response")
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("truncated worker response: %w", err)
	}

	switch status {
	case statusOK:
		if int64(n)*4 != int64(r.Len()) {
			return nil, fmt.Errorf("worker declared %d dims but sent %d bytes", n, r.Len())
		}
		raw := make([]float32, n)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, err
		}
		vec := make([]float64, n)
		for i, v := range raw {
			if math.IsNaN(float64(v)) {
				return nil, fmt.Errorf("worker returned NaN at dimension %d", i)
			}
			vec[i] = float64(v)
		}
		return vec, nil
	case statusError:
		msg := make([]byte, n)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("truncated worker error: %w", err)
		}
		return nil, fmt.Errorf("encoder worker error: %s", msg)
	default:
		return nil, fmt.Errorf("unknown worker status %d", status)
	}
}

// Close shuts the pipes and waits for the child to exit.
func (w *EncoderWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
