package sse

import (
	"bytes"
	"io"
	"strings"
)

// blockDelim 是 SSE 事件块之间的空行分隔符。
var blockDelim = []byte("\n\n")

// Decoder 从字节流中增量解码 SSE 事件。一次网络读取可能在任意位置
// 截断一条事件，未完成的尾部会缓存起来与下一块拼接后再解析。
type Decoder struct {
	r   io.Reader
	buf bytes.Buffer
	// scanned 是 buf 中已确认不含分隔符的前缀长度，
	// 长的半块不会在每次读取后被从头重扫
	scanned int
	pending []Event
	readBuf []byte
	eof     bool
}

// NewDecoder 创建一个从 r 读取的事件解码器。
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, readBuf: make([]byte, 4096)}
}

// Next 返回流中的下一条事件。流正常耗尽时返回 io.EOF。
// 无法识别的负载以 EventSkip 的形式返回，由调用方决定如何处理。
func (d *Decoder) Next() (Event, error) {
	for {
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending = d.pending[1:]
			return ev, nil
		}
		if d.eof {
			return Event{}, io.EOF
		}

		n, err := d.r.Read(d.readBuf)
		if n > 0 {
			d.buf.Write(d.readBuf[:n])
			d.drain(false)
		}
		if err == io.EOF {
			d.eof = true
			// 末尾缓冲可能残留一个没有空行收尾的事件块
			d.drain(true)
			continue
		}
		if err != nil {
			return Event{}, err
		}
	}
}

// drain 把缓冲区中完整的事件块解析进 pending 队列，只消费已收尾的
// 前缀。flush 为 true 时连同未收尾的残留一起解析。
func (d *Decoder) drain(flush bool) {
	for {
		data := d.buf.Bytes()
		idx := bytes.Index(data[d.scanned:], blockDelim)
		if idx < 0 {
			// 分隔符可能被下一次读取截断，回退一个字节再记为已扫描
			d.scanned = len(data) - 1
			if d.scanned < 0 {
				d.scanned = 0
			}
			break
		}
		end := d.scanned + idx
		block := string(data[:end])
		d.buf.Next(end + len(blockDelim))
		d.scanned = 0
		d.parseBlock(block)
	}

	if flush && d.buf.Len() > 0 {
		block := d.buf.String()
		d.buf.Reset()
		d.scanned = 0
		d.parseBlock(block)
	}
}

// parseBlock 解析一个事件块中的全部 data 行。
func (d *Decoder) parseBlock(block string) {
	if strings.TrimSpace(block) == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		d.pending = append(d.pending, ParseData(strings.TrimPrefix(line, "data:")))
	}
}
