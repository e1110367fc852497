package mesh

// post queues fn on the event loop. It reports false once the meeting ended.
func (m *Manager) post(fn func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	m.qmu.Lock()
	m.queue = append(m.queue, fn)
	m.qmu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// postWait runs fn on the event loop and waits for it. It returns ErrEnded if
// the loop stopped before fn finished.
func (m *Manager) postWait(fn func()) error {
	ran := make(chan struct{})
	if !m.post(func() {
		fn()
		close(ran)
	}) {
		return ErrEnded
	}
	select {
	case <-ran:
		return nil
	case <-m.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrEnded
		}
	}
}

func (m *Manager) run() {
	for {
		select {
		case <-m.wake:
		case <-m.done:
			return
		}
		for {
			m.qmu.Lock()
			if len(m.queue) == 0 {
				m.qmu.Unlock()
				break
			}
			fn := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.qmu.Unlock()

			fn()

			select {
			case <-m.done:
				return
			default:
			}
		}
	}
}
