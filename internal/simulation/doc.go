// Package simulation replays generated trial collections with a choice
// policy and measures how often the chosen path ends on the rewarded
// terminal stimulus.
//
// Each trial is walked through its mapping: a choice between the two start
// destinations, a choice between the two second-stage destinations, then the
// single terminal. A trial is rewarded when that terminal equals its
// reward_stimulus.
//
// Usage:
//
//	res, err := simulation.Run(collection, simulation.RandomPolicy{}, trials.NewRand(seed))
//	fmt.Printf("rewarded %d/%d (%.1f%%)\n", res.Rewarded, res.Trials, res.Rate*100)
package simulation
