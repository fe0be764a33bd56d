// Package sim provides the exact spatial stochastic simulation kernel.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - state.go: StateStore, per-tetrahedron molecule counts
//   - propensity.go: the ordered channel array and its rate formulas
//   - selector.go: linear and sum-tree event selection
//   - engine.go: the event loop and its Idle/Running/Paused/Terminated lifecycle
//
// # Architecture
//
// The model (sim/model) and mesh (sim/mesh) are immutable inputs. New binds
// them: every tetrahedron joins the compartment owning its element group,
// and one channel is laid out per reaction rule and per (diffusion rule,
// interior face) of that compartment. Each event is drawn with the Direct
// Method over all channels of the mesh, applied to the StateStore, and only
// the channels of the touched tetrahedra are recomputed.
//
// Collaborators live in sub-packages and only use the Engine's public
// surface:
//   - sim/trace/: sampled trajectories, CSV output and ensemble summaries
//   - sim/snapshot/: SQLite persistence of Snapshot values
//   - sim/ensemble/: many independent trajectories in parallel
//   - sim/observe/: websocket broadcast of polled counts
//
// # Reproducibility
//
// All randomness flows through PartitionedRNG: the kinetics stream drives
// waiting times and selection, the injection stream distributes
// compartment counts. A SimulationKey, model, mesh and seed population fully
// determine the event sequence.
package sim
