package pool

import (
	"bytes"
	"encoding/binary"
	"net"
	"sync"

	"golang.org/x/net/http2/hpack"

	"github.com/keenanhx/guise/profile"
)

// HTTP/2 frame types.
const (
	frameTypeHeaders      = 0x1
	frameTypePriority     = 0x2
	frameTypeSettings     = 0x4
	frameTypeWindowUpdate = 0x8
)

const frameHeaderLen = 9

var clientPreface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// preambleConn sits between the HTTP/2 transport and the TLS connection and
// rewrites the frames that make up the connection fingerprint: the SETTINGS
// frame after the preface, the first connection-level WINDOW_UPDATE, and
// every HEADERS frame. The transport's own emission order and values are
// replaced with the profile's.
type preambleConn struct {
	net.Conn
	fp          *profile.HTTP2Fingerprint
	headerOrder []string

	mu            sync.Mutex
	buf           bytes.Buffer
	wrotePreface  bool
	wroteSettings bool
	wroteWindow   bool
	hpackBuf      bytes.Buffer
	hpackEncoder  *hpack.Encoder
	hpackDecoder  *hpack.Decoder
}

func newPreambleConn(conn net.Conn, fp *profile.HTTP2Fingerprint, headerOrder []string) *preambleConn {
	c := &preambleConn{
		Conn:        conn,
		fp:          fp,
		headerOrder: headerOrder,
	}
	c.hpackEncoder = hpack.NewEncoder(&c.hpackBuf)
	// The decoder's dynamic table shadows the transport encoder's across the
	// whole connection, so it must live as long as the conn. The transport
	// starts at the HPACK default table size and signals any change with an
	// in-block size update, which the decoder applies up to the allowed max.
	c.hpackDecoder = hpack.NewDecoder(4096, nil)
	c.hpackDecoder.SetAllowedMaxDynamicTableSize(1 << 20)
	return c
}

// Write buffers transport output, splits it into frames and substitutes the
// fingerprint-bearing ones. M frames in may produce N frames out; the
// reported byte count is always the input length.
func (c *preambleConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.Write(p)
	originalLen := len(p)

	for c.buf.Len() > 0 {
		data := c.buf.Bytes()

		if !c.wrotePreface {
			if len(data) < len(clientPreface) || !bytes.Equal(data[:len(clientPreface)], clientPreface) {
				break
			}
			if _, err := c.Conn.Write(clientPreface); err != nil {
				return 0, err
			}
			c.buf.Next(len(clientPreface))
			c.wrotePreface = true
			continue
		}

		if len(data) < frameHeaderLen {
			break
		}
		length := (uint32(data[0]) << 16) | (uint32(data[1]) << 8) | uint32(data[2])
		frameType := data[3]
		frameSize := int(frameHeaderLen + length)
		if len(data) < frameSize {
			break
		}

		switch frameType {
		case frameTypeSettings:
			if !c.wroteSettings && data[4]&0x1 == 0 {
				if _, err := c.Conn.Write(c.settingsFrame()); err != nil {
					return 0, err
				}
				c.wroteSettings = true
				c.buf.Next(frameSize)
				continue
			}

		case frameTypeWindowUpdate:
			streamID := binary.BigEndian.Uint32(data[5:9]) & 0x7fffffff
			if !c.wroteWindow && streamID == 0 {
				if frame := c.windowUpdateFrame(); frame != nil {
					if _, err := c.Conn.Write(frame); err != nil {
						return 0, err
					}
				}
				if err := c.writePriorityFrames(); err != nil {
					return 0, err
				}
				c.wroteWindow = true
				c.buf.Next(frameSize)
				continue
			}

		case frameTypeHeaders:
			flags := data[4]
			streamID := binary.BigEndian.Uint32(data[5:9]) & 0x7fffffff
			if flags&0x4 != 0 && streamID > 0 {
				// A header block that fails to decode would desync the
				// decoder's dynamic table from the transport encoder's;
				// forwarding it raw would desync the server's instead. The
				// connection is unusable either way.
				frame, err := c.rewriteHeadersFrame(data[:frameSize])
				if err != nil {
					return 0, err
				}
				if _, err := c.Conn.Write(frame); err != nil {
					return 0, err
				}
				c.buf.Next(frameSize)
				continue
			}
		}

		if _, err := c.Conn.Write(data[:frameSize]); err != nil {
			return 0, err
		}
		c.buf.Next(frameSize)
	}

	return originalLen, nil
}

// settingsFrame renders the profile's SETTINGS parameters in their declared
// order. Presence is part of the fingerprint, so nothing is added or
// filtered here.
func (c *preambleConn) settingsFrame() []byte {
	var payload bytes.Buffer
	for _, s := range c.fp.Settings {
		binary.Write(&payload, binary.BigEndian, uint16(s.ID))
		binary.Write(&payload, binary.BigEndian, s.Val)
	}

	n := payload.Len()
	frame := make([]byte, frameHeaderLen+n)
	frame[0] = byte(n >> 16)
	frame[1] = byte(n >> 8)
	frame[2] = byte(n)
	frame[3] = frameTypeSettings
	copy(frame[frameHeaderLen:], payload.Bytes())
	return frame
}

func (c *preambleConn) windowUpdateFrame() []byte {
	if c.fp.ConnectionWindow == 0 {
		return nil
	}
	frame := make([]byte, frameHeaderLen+4)
	frame[2] = 4
	frame[3] = frameTypeWindowUpdate
	binary.BigEndian.PutUint32(frame[frameHeaderLen:], c.fp.ConnectionWindow&0x7fffffff)
	return frame
}

// writePriorityFrames emits the profile's standalone PRIORITY tree, once,
// right after the connection preamble. Firefox builds its stream groups
// this way.
func (c *preambleConn) writePriorityFrames() error {
	for _, pf := range c.fp.PriorityFrames {
		frame := make([]byte, frameHeaderLen+5)
		frame[2] = 5
		frame[3] = frameTypePriority
		binary.BigEndian.PutUint32(frame[5:9], pf.StreamID)
		dep := pf.StreamDep & 0x7fffffff
		if pf.Exclusive {
			dep |= 0x80000000
		}
		binary.BigEndian.PutUint32(frame[frameHeaderLen:frameHeaderLen+4], dep)
		frame[frameHeaderLen+4] = pf.Weight
		if _, err := c.Conn.Write(frame); err != nil {
			return err
		}
	}
	return nil
}

// rewriteHeadersFrame re-encodes a HEADERS frame with the profile's
// pseudo-header and header ordering, and its HEADERS-frame priority bits
// when the profile carries them.
func (c *preambleConn) rewriteHeadersFrame(original []byte) ([]byte, error) {
	originalFlags := original[4]
	streamID := binary.BigEndian.Uint32(original[5:9]) & 0x7fffffff

	hasPadding := originalFlags&0x8 != 0
	hasPriority := originalFlags&0x20 != 0

	blockStart := frameHeaderLen
	if hasPadding {
		blockStart++
	}
	if hasPriority {
		blockStart += 5
	}
	block := original[blockStart:]
	if hasPadding {
		padLen := int(original[frameHeaderLen])
		if padLen < len(block) {
			block = block[:len(block)-padLen]
		}
	}

	fields, err := c.hpackDecoder.DecodeFull(block)
	if err != nil {
		return nil, err
	}

	pseudo := make(map[string]string, 4)
	// Regular headers keep their relative decode order for anything the
	// profile's order list does not mention.
	var rest []hpack.HeaderField
	for _, f := range fields {
		if len(f.Name) > 0 && f.Name[0] == ':' {
			pseudo[f.Name] = f.Value
		} else {
			rest = append(rest, f)
		}
	}

	c.hpackBuf.Reset()
	for _, name := range c.fp.PseudoHeaderOrder {
		if val, ok := pseudo[name]; ok {
			c.hpackEncoder.WriteField(hpack.HeaderField{Name: name, Value: val})
		}
	}

	consumed := make([]bool, len(rest))
	for _, name := range c.headerOrder {
		for i, f := range rest {
			if !consumed[i] && f.Name == name {
				c.hpackEncoder.WriteField(f)
				consumed[i] = true
			}
		}
	}
	for i, f := range rest {
		if !consumed[i] {
			c.hpackEncoder.WriteField(f)
		}
	}
	newBlock := c.hpackBuf.Bytes()

	newFlags := originalFlags & 0x05
	payloadLen := len(newBlock)
	var priorityData []byte
	if hp := c.fp.HeaderPriority; hp != nil {
		priorityData = make([]byte, 5)
		dep := hp.StreamDep & 0x7fffffff
		if hp.Exclusive {
			dep |= 0x80000000
		}
		binary.BigEndian.PutUint32(priorityData[0:4], dep)
		priorityData[4] = hp.Weight
		newFlags |= 0x20
		payloadLen += 5
	}

	frame := make([]byte, frameHeaderLen+payloadLen)
	frame[0] = byte(payloadLen >> 16)
	frame[1] = byte(payloadLen >> 8)
	frame[2] = byte(payloadLen)
	frame[3] = frameTypeHeaders
	frame[4] = newFlags
	binary.BigEndian.PutUint32(frame[5:9], streamID)
	copy(frame[frameHeaderLen:], priorityData)
	copy(frame[frameHeaderLen+len(priorityData):], newBlock)
	return frame, nil
}
