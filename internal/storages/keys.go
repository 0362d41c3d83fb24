package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var pushClock struct {
	sync.Mutex
	last int64
}

// NewPushKey returns a unique key whose lexical order follows creation order.
func NewPushKey() string {
	pushClock.Lock()
	now := time.Now().UnixNano()
	if now <= pushClock.last {
		now = pushClock.last + 1
	}
	pushClock.last = now
	pushClock.Unlock()

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%016x-%s", now, suffix)
}

func sortStrings(s []string) {
	sort.Strings(s)
}
