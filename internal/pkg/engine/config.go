package engine

import "github.com/zpiroux/csv2json/entity"

type Config struct {
	EventLogInterval          int
	MaxStreamRetryIntervalSec int
	Log                       bool
	NotifyChan                entity.NotifyChan

	// Instruments are shared by all executors. If nil, metrics are only kept in memory.
	Instruments *Instruments
}
