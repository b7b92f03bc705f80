package ws

// Server -> client message types.
const (
	TypeConnected       = "connected"
	TypeJobCreated      = "job_created"
	TypeJobAssigned     = "job_assigned"
	TypeJobProgress     = "job_progress"
	TypeJobCompleted    = "job_completed"
	TypeJobFailed       = "job_failed"
	TypeJobCancelled    = "job_cancelled"
	TypeProviderStatus  = "provider_status"
	TypeGPUMetrics      = "gpu_metrics"
	TypeEscrowUpdate    = "escrow_update"
	TypeEarningsUpdate  = "earnings_update"
	TypeNetworkEarnings = "network_earnings"
	TypePong            = "pong"
	TypeSubscribed      = "subscribed"
	TypeError           = "error"
)

// Client -> server message types.
const (
	TypeHeartbeat   = "heartbeat"
	TypeJobComplete = "job_complete"
	TypeJobFail     = "job_failed"
	TypeSubscribe   = "subscribe"
	TypePing        = "ping"
)
