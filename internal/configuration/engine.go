package configuration

// Engine is the contract this service needs from the surrounding
// consensus engine (spec section 1, "external collaborators"). The
// handlers in this package never reach for a concrete consensus type;
// they depend only on this interface, so they can be tested against a
// bare sandbox implementation with no gossip, networking, or storage
// engine wired up at all.
type Engine interface {
	// CurrentHeight returns the last-committed height. While a block's
	// transactions are being applied it is still the height before that
	// block; it advances only once the block has committed.
	CurrentHeight() uint64

	// ActiveConfig returns the configuration currently in force. It is
	// never nil: the engine is expected to seed it from genesis.
	ActiveConfig() *StoredConfiguration

	// FollowingConfig returns the scheduled configuration awaiting its
	// actual_from height, or nil if none is pending.
	FollowingConfig() *StoredConfiguration

	// ScheduleFollowing records cfg as the following configuration. It
	// is the sole write this service makes into engine-owned state, and
	// must be idempotent for repeated calls with the same config-hash
	// within a single block.
	ScheduleFollowing(cfg *StoredConfiguration) error

	// ActivateFollowing promotes the following configuration to active
	// and clears following. Called only from the activation hook, and
	// only when FollowingConfig is non-nil.
	ActivateFollowing() error
}
