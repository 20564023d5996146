// Package tracking samples a subject's position at a cadence that adapts to
// role, speed and battery, suppresses updates that carry no new information,
// and transmits the rest through a bounded offline buffer.
//
// A Coordinator owns one Session per tracked subject. Sessions are
// independent: each has its own sampler, buffer, timers and statistics, and
// stopping one never affects another.
package tracking
