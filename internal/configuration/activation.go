package configuration

import "log"

// ActivationHook runs once per block commit, after every transaction in
// the block has been applied (spec section 4.4). If a configuration is
// scheduled and the newly committed height equals its actual_from, it is
// promoted to active and following is cleared. This is the sole
// mechanism by which the active configuration ever changes.
func ActivationHook(engine Engine, committedHeight uint64) error {
	following := engine.FollowingConfig()
	if following == nil {
		return nil
	}
	if committedHeight != following.ActualFrom {
		return nil
	}
	if err := engine.ActivateFollowing(); err != nil {
		return err
	}
	log.Printf("[configuration] activated following configuration at height %d", committedHeight)
	return nil
}
