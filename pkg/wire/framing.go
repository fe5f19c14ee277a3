package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame to guard against a misbehaving peer
// claiming an unbounded length prefix.
const MaxFrameSize = 16 * 1024 * 1024

// Cipher encrypts/decrypts frame bodies once the Noise handshake has
// completed; pkg/connfsm supplies the concrete implementation backed by
// github.com/flynn/noise's CipherState.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// WriteFrame serializes msg to JSON, optionally encrypts it, and writes it
// length-prefixed to w (spec section 6: "Each frame is length-prefixed and
// encrypted once Noise is complete").
func WriteFrame(w io.Writer, msg Message, c Cipher) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if c != nil {
		body, err = c.Encrypt(body)
		if err != nil {
			return fmt.Errorf("encrypt frame: %w", err)
		}
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed frame from r, decrypting it if c is
// non-nil, and decodes it into a Message.
func ReadFrame(r io.Reader, c Cipher) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return Message{}, fmt.Errorf("frame size %d exceeds max %d", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, err
	}
	if c != nil {
		var err error
		body, err = c.Decrypt(body)
		if err != nil {
			return Message{}, fmt.Errorf("decrypt frame: %w", err)
		}
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	return msg, nil
}
