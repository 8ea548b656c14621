package eventloop

import "time"

var clockBase = time.Now()

func fallbackNow() int64 {
	return time.Since(clockBase).Microseconds()
}
