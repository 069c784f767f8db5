// Package notify fans policy notifications out to remote subscribers.
//
// Each subscriber gets a Worker with its own FIFO queue and goroutine, so a
// slow or unreachable subscriber never blocks the others. Workers move from
// Alive to Disconnected on a transient failure and to Dead on the next one;
// the Hub evicts dead workers lazily on its next mutation or on EvictDead.
package notify
