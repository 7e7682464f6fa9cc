package gateway

type fanoutJob struct {
	conns   []*Client
	payload []byte
}

// Fanout delivers one payload to many local connections off the hot path.
// Slow clients are skipped rather than blocking the whole room.
type Fanout struct {
	mgr  *ConnManager
	jobs chan fanoutJob
}

func NewFanout(mgr *ConnManager, workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{mgr: mgr, jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				for _, c := range job.conns {
					select {
					case c.Send <- job.payload:
					default:
						// Slow client: can be counted/disconnected; here we choose to skip
					}
				}
			}
		}()
	}
	return f
}

// BroadcastRoom fans payload out to every local member of room.
func (f *Fanout) BroadcastRoom(room string, payload []byte) {
	conns := f.mgr.RoomClients(room)
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	f.jobs <- fanoutJob{conns: conns, payload: payload}
}

// Broadcast fans payload out to an explicit connection list.
func (f *Fanout) Broadcast(conns []*Client, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	f.jobs <- fanoutJob{conns: conns, payload: payload}
}
