package domain

// Trade directions
const (
	DirectionUp   = "UP"
	DirectionDown = "DOWN"
)

// Trade statuses
const (
	StatusPending     = "PENDING"
	StatusOpen        = "OPEN"
	StatusWon         = "WON"
	StatusLost        = "LOST"
	StatusExpiredVoid = "EXPIRED_VOID"
)

// Martingale sequence statuses
const (
	SequenceActive          = "ACTIVE"
	SequenceCompletedWin    = "COMPLETED_WIN"
	SequenceAbortedMaxSteps = "ABORTED_MAX_STEPS"
	SequenceAbortedBalance  = "ABORTED_BALANCE"
	SequenceClosedVoid      = "CLOSED_VOID"
)

// Parser rejection reasons
const (
	RejectUnparseable      = "UNPARSEABLE"
	RejectUnsupportedAsset = "UNSUPPORTED_ASSET"
	RejectLowConfidence    = "LOW_CONFIDENCE"
)

// Risk denial reasons
const (
	DenyDailyLossLimit       = "DAILY_LOSS_LIMIT"
	DenyConcurrencyLimit     = "CONCURRENCY_LIMIT"
	DenyConsecutiveLossPause = "CONSECUTIVE_LOSS_PAUSE"
	DenyOutsideMarketHours   = "OUTSIDE_MARKET_HOURS"
	DenyLowConfidence        = "LOW_CONFIDENCE"
	DenyInsufficientBalance  = "INSUFFICIENT_BALANCE"
)

// Signal sources
const (
	SourceTelegram = "telegram"
	SourceRecovery = "recovery" // сгенерирован martingale-трекером после убытка
)

// Broker account modes
const (
	ModePractice = "PRACTICE"
	ModeReal     = "REAL"
)
