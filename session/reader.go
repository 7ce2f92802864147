package session

// readLoop is the control reader task, grounded on _teacherref's
// server_conn_reader.go loop shape and original_source/rtsp_session.hpp's
// control_task_fn: a dedicated goroutine that owns the control stream for
// this session's lifetime, exiting as soon as it observes closed,
// observes a disconnected stream, or a read fails (spec.md §4.5).
func (s *Session) readLoop() {
	defer close(s.readerDone)

	buf := make([]byte, s.receiveBufferSize)
	for {
		if s.closed.Load() {
			return
		}
		if !s.connected.Load() {
			s.Teardown()
			return
		}

		n, err := s.controlConn.Read(buf)
		if err != nil {
			s.connected.Store(false)
			s.Teardown()
			return
		}
		if n == 0 {
			continue
		}

		s.handleRequest(buf[:n])
	}
}
