// Package transport 把订阅的事件流转换为对外连接的帧（SSE / WebSocket）
package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"resume-optimizer/internal/shared/model"
)

// DefaultMinFrameBytes 帧的最小字节数，小于该值时补齐
//
// 部分反向代理会缓冲小块数据，补齐后每帧都能被及时转发。
const DefaultMinFrameBytes = 2048

var keepAliveFrame = []byte(": keepalive\n\n")

// EncodeFrame 编码一条事件帧：id 行、data 行、空行
func EncodeFrame(env *model.Envelope) ([]byte, error) {
	data, err := model.MarshalEnvelope(env)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.Grow(len(data) + 32)
	b.WriteString("id: ")
	b.WriteString(strconv.FormatInt(env.EventID, 10))
	b.WriteString("\ndata: ")
	b.Write(data)
	b.WriteString("\n\n")
	return b.Bytes(), nil
}

// KeepAliveFrame 保活帧（注释行）
func KeepAliveFrame() []byte {
	return bytes.Clone(keepAliveFrame)
}

// Pad 在结束空行前插入注释行，使帧至少 minBytes 字节
func Pad(frame []byte, minBytes int) []byte {
	if len(frame) >= minBytes || !bytes.HasSuffix(frame, []byte("\n\n")) {
		return frame
	}
	fill := max(minBytes-len(frame)-2, 0)
	out := make([]byte, 0, len(frame)+fill+2)
	out = append(out, frame[:len(frame)-1]...)
	out = append(out, ':')
	out = append(out, bytes.Repeat([]byte{' '}, fill)...)
	out = append(out, '\n', '\n')
	return out
}

// Frame 解析出的一帧
type Frame struct {
	ID    int64
	HasID bool
	Data  []byte
}

// KeepAlive 只有注释行的帧
func (f Frame) KeepAlive() bool {
	return !f.HasID && len(f.Data) == 0
}

// Envelope 解码 data 中的事件
func (f Frame) Envelope() (*model.Envelope, error) {
	if len(f.Data) == 0 {
		return nil, errors.New("frame has no data")
	}
	env, err := model.UnmarshalEnvelope(f.Data)
	if err != nil {
		return nil, err
	}
	if f.HasID && env.EventID != f.ID {
		return nil, fmt.Errorf("frame id %d does not match event_id %d", f.ID, env.EventID)
	}
	return env, nil
}

// Reader 逐帧读取
type Reader struct {
	r *bufio.Reader
}

// NewReader 创建帧读取器
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next 读取下一帧，流结束返回 io.EOF
func (rd *Reader) Next() (Frame, error) {
	var f Frame
	seen := false
	var data [][]byte
	for {
		line, err := rd.r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) == 0 {
				if seen {
					return Frame{}, io.ErrUnexpectedEOF
				}
				return Frame{}, io.EOF
			}
			if !errors.Is(err, io.EOF) {
				return Frame{}, err
			}
		}
		line = bytes.TrimRight(line, "\r\n")

		if len(line) == 0 {
			if !seen {
				continue
			}
			f.Data = bytes.Join(data, []byte("\n"))
			return f, nil
		}
		seen = true

		if line[0] == ':' {
			continue
		}
		field, value, _ := strings.Cut(string(line), ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			id, perr := strconv.ParseInt(value, 10, 64)
			if perr != nil {
				return Frame{}, fmt.Errorf("invalid frame id %q", value)
			}
			f.ID, f.HasID = id, true
		case "data":
			data = append(data, []byte(value))
		}
	}
}

// LastEventID 从请求中读取客户端最后收到的 event_id
//
// 优先 Last-Event-ID 头，其次 last_event_id 参数；缺失或非法时为 0。
func LastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
