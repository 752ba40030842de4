// Package dynamo provides the core primitives shared by the stabilizer engine.
//
// The package defines the value types passed between components:
//
//   - [State]: plant state advanced once per tick
//   - [Sample]: one immutable history record
//   - [FaultStatus]: externally visible protection latch
//   - [Disturbance]: magnitudes consumed by a tick
//
// and the configuration axes the engine is parameterized by:
// [ControllerMode], [PlantPolicy], [TripMode] and [ResetBaseline].
//
// # Errors
//
// Rejected command inputs are reported as [*ValidationError] wrapping
// [ErrNonFinite], [ErrOutOfRange] or [ErrUnknownKind]. Use errors.Is to
// classify them.
package dynamo
