package channel

// Channel events for the native channel source, where clients publish URLs directly on the
// Extractor's source channel with Processor.Publish().

type ResultChanEvent struct {
	Id      string // Resource ID of the last row emitted by the sink
	Rows    int    // Number of rows emitted
	Success bool   // Result status that will only be true if set explicitly, avoiding default value issues with Err
	Error   error  // Contains error info in case of Success == false
}

type ChanEvent struct {
	Data          []byte
	ResultChannel chan ResultChanEvent
}

type EventChannel chan ChanEvent
