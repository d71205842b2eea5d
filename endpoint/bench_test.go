package endpoint

import (
	"testing"
	"time"
)

// BenchmarkTracker_Allow measures the admission check on a closed circuit.
func BenchmarkTracker_Allow(b *testing.B) {
	tracker := NewTracker(Config{}, "github")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tracker.Allow("github")
	}
}

// BenchmarkTracker_RecordSuccess measures the hot success path.
func BenchmarkTracker_RecordSuccess(b *testing.B) {
	tracker := NewTracker(Config{}, "github")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker.RecordSuccess("github", 10*time.Millisecond)
	}
}

// BenchmarkTracker_Allow_Parallel measures contention across keys.
func BenchmarkTracker_Allow_Parallel(b *testing.B) {
	tracker := NewTracker(Config{}, "github", "sentry", "jira")
	keys := []string{"github", "sentry", "jira"}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = tracker.Allow(keys[i%len(keys)])
			i++
		}
	})
}
