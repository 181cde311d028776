package domain

import (
	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant/scope"
)

// Background job names. Arguments are JSON primitives; ids travel as strings.
const (
	JobGrant                 = "benefit.grant"
	JobRevoke                = "benefit.revoke"
	JobCycle                 = "benefit.cycle"
	JobUpdate                = "benefit.update"
	JobDelete                = "benefit.delete"
	JobEnqueueBenefitsGrants = "benefit.enqueue_benefits_grants"
	JobEnqueueCycles         = "benefit.enqueue_cycles"
	JobBenefitUpdated        = "benefit.updated"
	JobBenefitDeleted        = "benefit.deleted"
	JobProductBenefitsChange = "product.benefits_changed"
	JobCustomerDeleted       = "customer.deleted"
	JobPreconditionFulfilled = "customer.precondition_fulfilled"
	JobCustomerStateChanged  = "customer.state_changed"
)

func GrantJobArgs(req GrantRequest) map[string]any {
	args := scopeArgs(req.Scope)
	args["org_id"] = req.OrgID.String()
	args["customer_id"] = req.CustomerID.String()
	args["benefit_id"] = req.BenefitID.String()
	if req.MemberID != nil {
		args["member_id"] = req.MemberID.String()
	}
	return args
}

func GrantIDJobArgs(orgID, grantID snowflake.ID) map[string]any {
	return map[string]any{
		"org_id":   orgID.String(),
		"grant_id": grantID.String(),
	}
}

func UpdateJobArgs(orgID, grantID snowflake.ID, previous map[string]any) map[string]any {
	args := GrantIDJobArgs(orgID, grantID)
	args["previous_properties"] = copyMap(previous)
	return args
}

func ProductChangeJobArgs(req ProductChangeRequest) map[string]any {
	args := scopeArgs(req.Scope)
	args["task"] = string(req.Task)
	args["org_id"] = req.OrgID.String()
	args["customer_id"] = req.CustomerID.String()
	args["product_id"] = req.ProductID.String()
	if req.MemberID != nil {
		args["member_id"] = req.MemberID.String()
	}
	return args
}

func CycleScopeJobArgs(orgID, customerID snowflake.ID, args scope.Args) map[string]any {
	out := scopeArgs(args)
	out["org_id"] = orgID.String()
	out["customer_id"] = customerID.String()
	return out
}

func BenefitUpdatedJobArgs(orgID, benefitID snowflake.ID, previous map[string]any) map[string]any {
	return map[string]any{
		"org_id":              orgID.String(),
		"benefit_id":          benefitID.String(),
		"previous_properties": copyMap(previous),
	}
}

func BenefitJobArgs(orgID, benefitID snowflake.ID) map[string]any {
	return map[string]any{
		"org_id":     orgID.String(),
		"benefit_id": benefitID.String(),
	}
}

func ProductJobArgs(orgID, productID snowflake.ID) map[string]any {
	return map[string]any{
		"org_id":     orgID.String(),
		"product_id": productID.String(),
	}
}

func CustomerJobArgs(orgID, customerID snowflake.ID) map[string]any {
	return map[string]any{
		"org_id":      orgID.String(),
		"customer_id": customerID.String(),
	}
}

func PreconditionJobArgs(orgID, customerID snowflake.ID, benefitType benefitdomain.BenefitType) map[string]any {
	args := CustomerJobArgs(orgID, customerID)
	args["benefit_type"] = string(benefitType)
	return args
}

func scopeArgs(args scope.Args) map[string]any {
	return args.Map()
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
