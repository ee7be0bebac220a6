package core

import "foodshare/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Listing            = domain.Listing
	ListingStatus      = domain.ListingStatus
	Claim              = domain.Claim
	ClaimStatus        = domain.ClaimStatus
	Delivery           = domain.Delivery
	DeliveryStatus     = domain.DeliveryStatus
	WasteMetric        = domain.WasteMetric
	CategoryAmount     = domain.CategoryAmount
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RulesEngine        = domain.RulesEngine
	Rule               = domain.Rule
	RuleViolationError = domain.RuleViolationError
)

const (
	EntityListing     = domain.EntityListing
	EntityClaim       = domain.EntityClaim
	EntityDelivery    = domain.EntityDelivery
	EntityWasteMetric = domain.EntityWasteMetric
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
