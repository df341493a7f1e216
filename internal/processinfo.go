// Process/OS facts gathered once at package init, consumed by the stats
// reporter's process-health snapshot (see statsreporter.go).

package threadly_internal

import (
	"fmt"
	"os"
	"time"
)

var (
	AvailableCPUCount = GetAvailableCPUCount()
	ProcessStartTime  = time.Now()
	OsBootTime        = time.Now()
	Clktck            int64
	ClktckSec         float64
	OsInfo            = make(map[string]string)
)

func init() {
	bootTime, err := GetOsBootTime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "GetOsBootTime(): %v\n", err)
	} else {
		OsBootTime = bootTime
	}

	clktck, err := GetSysClktck()
	if err != nil {
		fmt.Fprintf(os.Stderr, "GetSysClktck(): %v\n", err)
	} else {
		Clktck = clktck
		ClktckSec = float64(1) / float64(Clktck)
	}

	osInfo, err := GetOsInfo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "GetOsInfo(): %v\n", err)
	} else {
		OsInfo = osInfo
	}
}
