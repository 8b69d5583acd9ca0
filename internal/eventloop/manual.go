package eventloop

// Manual is a Scheduler for tests. Nothing runs until Flush or Step is called.
type Manual struct {
	queue []func()
	async []func() func()
}

func NewManual() *Manual { return &Manual{} }

func (m *Manual) Post(fn func()) {
	if fn != nil {
		m.queue = append(m.queue, fn)
	}
}

func (m *Manual) Async(work func() func()) {
	m.async = append(m.async, work)
}

// Pending returns the number of queued tasks and async jobs.
func (m *Manual) Pending() int { return len(m.queue) + len(m.async) }

// Step runs the oldest async job or, if none, the oldest posted task.
// It reports whether anything ran.
func (m *Manual) Step() bool {
	if len(m.async) > 0 {
		work := m.async[0]
		m.async = m.async[1:]
		if then := work(); then != nil {
			m.queue = append(m.queue, then)
		}
		return true
	}
	if len(m.queue) > 0 {
		fn := m.queue[0]
		m.queue = m.queue[1:]
		fn()
		return true
	}
	return false
}

// Flush runs until nothing is pending.
func (m *Manual) Flush() {
	for m.Step() {
	}
}
