// Package metrics turns model outputs into the scalar signals the controller
// gates on: entropy H, drift D, coherence RC, torsion K, interference ZI,
// energy E and the holonomy delta.
//
// Every function takes explicitly shaped, already-averaged vectors. The
// caller is responsible for collapsing a model's attention tensor into a
// single key distribution (see Snapshot); nothing in this package reshapes
// its inputs. Divisions are guarded by an epsilon, cosine inputs are scaled
// to unit L2 norm and KL/entropy inputs to unit L1 sum.
package metrics
