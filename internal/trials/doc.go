// Package trials generates trial sequences for the three-step task.
//
// A trial presents a pair of stage-1 stimuli (1, 2). Choosing one leads to a
// pair of stage-2 stimuli (3, 4 or 5, 6), and choosing one of those leads to a
// single terminal stimulus (7..10). One terminal stimulus carries the reward.
// The reward stays on the same terminal stimulus for a run of consecutive
// trials (a segment) whose length is drawn from a normal distribution.
//
// Generation is split into three steps:
//
//   - GenerateStayTimes composes the requested trial count out of segment
//     lengths by rejection sampling.
//   - GenerateMapping builds the counter-balanced stimulus mapping of a single
//     trial and perturbs it into common or rare transitions.
//   - Assembler.Assemble draws a reward stimulus per segment and expands the
//     segments into ordered Trial records.
//
// Every call takes an explicit random source (Rand), so a fixed seed
// reproduces the same collection.
package trials
