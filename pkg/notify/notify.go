// Package notify sends operational events of a processor to its notify channel, and
// optionally to the log. It is public so that custom source and sink connectors can report
// events the same way as the native ones, using the channel provided in entity.Config.
package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/teltech/logger"
	"github.com/zpiroux/csv2json/entity"
)

// LogLevelEnv names the env variable holding the minimum level of events to send
const LogLevelEnv = "LOG_LEVEL"

const timestampFormat = "2006-01-02T15:04:05.000000Z"

// Notifier sends NotificationEvents without ever blocking. Events are dropped if the
// channel is full or nil.
type Notifier struct {
	ch             entity.NotifyChan
	log            *logger.Log
	minNotifyLevel int
	callerLevel    int
	sender         string
	instance       string
	processor      string
}

// New creates a Notifier for a sender entity, e.g. "executor", with its instance ID and the
// ID of its processor (may be empty). If log is nil events are only sent to the channel.
//
// The callerLevel is the number of stack frames between the func to report as origin of
// the event and the call to Notify(), plus one. That is 2 when the reporting func calls
// Notify() directly.
//
// The minimum level is taken from the LOG_LEVEL env variable (DEBUG, INFO, WARN or ERROR),
// defaulting to INFO. It can be changed with SetNotifyLevel().
func New(ch entity.NotifyChan, log *logger.Log, callerLevel int, sender, instance, processor string) *Notifier {
	level := entity.NotifyLevel(os.Getenv(LogLevelEnv))
	if level == entity.NotifyLevelInvalid {
		level = entity.NotifyLevelInfo
	}
	return &Notifier{
		ch:             ch,
		log:            log,
		minNotifyLevel: level,
		callerLevel:    callerLevel,
		sender:         sender,
		instance:       instance,
		processor:      processor,
	}
}

func (n *Notifier) Sender() string    { return n.sender }
func (n *Notifier) Instance() string  { return n.instance }
func (n *Notifier) Processor() string { return n.processor }

func (n *Notifier) SetNotifyLevel(level int) {
	n.minNotifyLevel = level
}

// Notify formats the message and sends it if level is at or above the minimum level.
// The event carries the name of the reporting func. From WARN the file and line are
// added, and ERROR events also carry the stack trace.
func (n *Notifier) Notify(level int, format string, args ...any) {
	if level < n.minNotifyLevel {
		return
	}

	event := entity.NotificationEvent{
		Sender:    n.sender,
		Instance:  n.instance,
		Processor: n.processor,
		Message:   fmt.Sprintf(format, args...),
	}
	n.SendNotificationEvent(level, event)
	n.logEvent(level, event)
}

// SendNotificationEvent adds level, timestamp and origin info to the event and sends it
// on the channel. It must be called directly from Notify(), or the origin is off by one.
func (n *Notifier) SendNotificationEvent(level int, event entity.NotificationEvent) {

	event.Level = entity.NotifyLevelName(level)
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(timestampFormat)
	}

	event.Func = "unknown"
	pc, file, line, ok := runtime.Caller(n.callerLevel)
	if ok {
		if f := runtime.FuncForPC(pc); f != nil {
			_, event.Func = filepath.Split(f.Name())
		}
		if level >= entity.NotifyLevelWarn {
			event.File = file
			event.Line = line
		}
	}
	if level == entity.NotifyLevelError {
		buf := make([]byte, 2048)
		event.StackTrace = string(buf[:runtime.Stack(buf, false)])
	}

	select {
	case n.ch <- event:
	default:
	}
}

func (n *Notifier) logEvent(level int, event entity.NotificationEvent) {
	if n.log == nil {
		return
	}

	prefix := "[" + n.sender + ":" + n.instance + "]"
	if n.processor != "" {
		prefix += "(processor: " + n.processor + ")"
	}

	switch level {
	case entity.NotifyLevelDebug:
		n.log.Debugf("%s %s", prefix, event.Message)
	case entity.NotifyLevelInfo:
		n.log.Infof("%s %s", prefix, event.Message)
	case entity.NotifyLevelWarn:
		n.log.Warnf("%s %s", prefix, event.Message)
	case entity.NotifyLevelError:
		n.log.Errorf("%s %s", prefix, event.Message)
	}
}
