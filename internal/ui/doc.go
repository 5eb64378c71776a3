// Package ui renders a running job in the terminal using bubbletea's Elm architecture.
//
// The (view) [Model] has two views:
//  1. [ProgressView] : spinner, progress bar and a tail of newly accepted record ids
//  2. [ResultView] : outcome, counts and the backend's terminal error, if any
//
// Progress flows from the poll loop through a [tasks.ChannelObserver], which drops updates rather than block
// polling when the UI falls behind. The job runs in its own goroutine; cancelling from the keyboard cancels
// its context and the view waits for the partial result.
//
// Keyboard bindings (esc/ctrl+c cancel, q quit, ? help) are displayed via charmbracelet/bubbles/help.
package ui
