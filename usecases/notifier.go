package usecases

import "context"

// Notifier pushes typed realtime messages to connected clients.
type Notifier interface {
	SendTo(id, msgType string, data interface{}) error
	Broadcast(msgType string, data interface{}) int
	BroadcastTo(role, msgType string, data interface{}) int
}

// Queue receives job ids that are ready for dispatch.
type Queue interface {
	Enqueue(jobID string)
	Remove(jobID string)
}

// Ledger records transfers on the Qubic network.
type Ledger interface {
	SimulateTransfer(ctx context.Context, from, to string, amount float64) (string, error)
}

type nopNotifier struct{}

func (nopNotifier) SendTo(string, string, interface{}) error { return nil }
func (nopNotifier) Broadcast(string, interface{}) int { return 0 }
func (nopNotifier) BroadcastTo(string, string, interface{}) int { return 0 }

type nopQueue struct{}

func (nopQueue) Enqueue(string) {}
func (nopQueue) Remove(string) {}
