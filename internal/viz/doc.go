// Package viz provides the terminal front end for a running engine.
//
// [Model] is a Bubble Tea model that polls the engine facade at a fixed
// frame rate and renders the recent output and error history with
// asciigraph. It never touches engine state except through commands.
//
// # Key Bindings
//
//	Space - Pause/Resume
//	R     - Reset the protection latch
//	I     - Trigger an inductive disturbance
//	E     - Trigger an electromagnetic disturbance
//	Tab   - Select the next parameter
//	↑/↓   - Raise/lower the selected parameter
//	T     - Cycle color themes
//	?     - Show help
package viz
