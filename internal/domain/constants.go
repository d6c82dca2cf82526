package domain

const (
	RoleCustomer = "CUSTOMER"
	RoleOwner    = "OWNER"
)

const (
	TxKindEarned   = "EARNED"
	TxKindRedeemed = "REDEEMED"
)

const (
	RedemptionProcessing = "PROCESSING"
	RedemptionCompleted  = "COMPLETED"
	RedemptionFailed     = "FAILED"
	RedemptionExpired    = "EXPIRED"
)

const (
	NotifPointsEarned       = "POINTS_EARNED"
	NotifRedemptionComplete = "REDEMPTION_COMPLETED"
	NotifRedemptionFailed   = "REDEMPTION_FAILED"
	NotifRedemptionExpired  = "REDEMPTION_EXPIRED"
)

// Settings keys (overridable via the settings table).
const (
	SettingPointsPerFeedback = "reward.points_per_feedback"
)
