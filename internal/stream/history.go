package stream

import "resume-optimizer/internal/shared/model"

// ring 固定容量的事件环形缓冲，按 event_id 升序保存最近的事件
type ring struct {
	buf   []*model.Envelope
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{buf: make([]*model.Envelope, capacity)}
}

// push 追加事件，满时覆盖最旧的一条
func (r *ring) push(env *model.Envelope) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = env
		r.size++
		return
	}
	r.buf[r.start] = env
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) at(i int) *model.Envelope {
	return r.buf[(r.start+i)%len(r.buf)]
}

// oldestID 最旧事件的序号，空缓冲返回 0
func (r *ring) oldestID() int64 {
	if r.size == 0 {
		return 0
	}
	return r.at(0).EventID
}

// since 返回序号大于 after 的事件
func (r *ring) since(after int64) []*model.Envelope {
	out := make([]*model.Envelope, 0, r.size)
	for i := 0; i < r.size; i++ {
		if env := r.at(i); env.EventID > after {
			out = append(out, env)
		}
	}
	return out
}

// covers 缓冲是否包含 after 之后的全部事件
func (r *ring) covers(after int64) bool {
	return r.size > 0 && r.oldestID() <= after+1
}

func (r *ring) len() int { return r.size }
