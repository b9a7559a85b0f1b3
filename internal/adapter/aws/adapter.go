// Package aws implements the CloudAdapter contract against the AWS Cost
// Explorer API.
package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"

	"github.com/costlens/backend/internal/adapter"
	"github.com/costlens/backend/internal/focus"
	"github.com/costlens/backend/internal/model"
)

const (
	dateLayout    = "2006-01-02"
	defaultRegion = "us-east-1"
	callTimeout   = 2 * time.Minute
)

// chargeCategories maps Cost Explorer RECORD_TYPE values onto the closed
// FOCUS enum. Anything not listed here maps to USAGE: AWS grows new record
// types without notice and an unmapped category must never abort ingestion.
var chargeCategories = map[string]focus.ChargeCategory{
	"Usage":                        focus.ChargeCategoryUsage,
	"DiscountedUsage":              focus.ChargeCategoryUsage,
	"SavingsPlanCoveredUsage":      focus.ChargeCategoryUsage,
	"Tax":                          focus.ChargeCategoryTax,
	"Credit":                       focus.ChargeCategoryCredit,
	"Refund":                       focus.ChargeCategoryAdjustment,
	"SavingsPlanNegation":          focus.ChargeCategoryAdjustment,
	"Fee":                          focus.ChargeCategoryPurchase,
	"RIFee":                        focus.ChargeCategoryPurchase,
	"SavingsPlanUpfrontFee":        focus.ChargeCategoryPurchase,
	"SavingsPlanRecurringFee":      focus.ChargeCategoryPurchase,
	"Support":                      focus.ChargeCategorySupport,
	"EnterpriseDiscountProgramFee": focus.ChargeCategoryPurchase,
}

// Adapter implements adapter.CloudAdapter for AWS. It is stateless: SDK
// clients are built per call from the credentials the job carries.
type Adapter struct {
	logger *slog.Logger
}

// New creates the AWS adapter.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

// Provider returns the AWS provider tag.
func (a *Adapter) Provider() model.Provider { return model.ProviderAWS }

// GetCosts fetches billing records from Cost Explorer, grouped by service
// and record type, following pagination to the end of the window.
func (a *Adapter) GetCosts(ctx context.Context, creds adapter.Credentials, params adapter.CostParams) ([]focus.RawRecord, error) {
	cfg, err := a.buildConfig(ctx, creds)
	if err != nil {
		return nil, adapter.NewAuthError(model.ProviderAWS, err)
	}
	client := costexplorer.NewFromConfig(cfg)

	granularity := cetypes.GranularityDaily
	if params.Granularity == model.GranularityMonthly {
		granularity = cetypes.GranularityMonthly
	}

	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(params.StartDate.Format(dateLayout)),
			End:   aws.String(params.EndDate.Format(dateLayout)),
		},
		Granularity: granularity,
		Metrics:     []string{"UnblendedCost", "NetUnblendedCost", "UsageQuantity"},
		GroupBy: []cetypes.GroupDefinition{
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("RECORD_TYPE")},
		},
	}
	if filter := buildFilter(params.Filters); filter != nil {
		input.Filter = filter
	}

	a.logger.Info("fetching AWS costs",
		"start", params.StartDate.Format(dateLayout),
		"end", params.EndDate.Format(dateLayout),
		"granularity", granularity,
	)

	var records []focus.RawRecord
	for {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		output, err := client.GetCostAndUsage(callCtx, input)
		cancel()
		if err != nil {
			return nil, classify(err)
		}

		for _, result := range output.ResultsByTime {
			start := aws.ToString(result.TimePeriod.Start)
			end := aws.ToString(result.TimePeriod.End)
			for _, group := range result.Groups {
				data := map[string]any{
					"time_period_start": start,
					"time_period_end":   end,
				}
				if len(group.Keys) > 0 {
					data["service"] = group.Keys[0]
				}
				if len(group.Keys) > 1 {
					data["record_type"] = group.Keys[1]
				}
				if m, ok := group.Metrics["UnblendedCost"]; ok {
					data["unblended_cost"] = aws.ToString(m.Amount)
					data["currency"] = aws.ToString(m.Unit)
				}
				if m, ok := group.Metrics["NetUnblendedCost"]; ok {
					data["net_unblended_cost"] = aws.ToString(m.Amount)
				}
				if m, ok := group.Metrics["UsageQuantity"]; ok {
					data["usage_quantity"] = aws.ToString(m.Amount)
					data["usage_unit"] = aws.ToString(m.Unit)
				}
				records = append(records, focus.RawRecord{Provider: model.ProviderAWS, Data: data})
			}
		}

		if output.NextPageToken == nil {
			break
		}
		input.NextPageToken = output.NextPageToken
	}

	return records, nil
}

// NormalizeToFocus maps Cost Explorer records into FOCUS line items.
// Malformed numeric fields default to zero; unknown record types default to
// USAGE.
func (a *Adapter) NormalizeToFocus(raw []focus.RawRecord) []focus.CostItem {
	items := make([]focus.CostItem, 0, len(raw))
	for _, r := range raw {
		recordType := adapter.RawString(r.Data, "record_type")
		billed := adapter.RawFloat(r.Data, "unblended_cost")
		effective := billed
		if _, ok := r.Data["net_unblended_cost"]; ok {
			effective = adapter.RawFloat(r.Data, "net_unblended_cost")
		}

		currency := model.Currency(adapter.RawString(r.Data, "currency"))
		if currency == "" {
			currency = model.CurrencyUSD
		}

		items = append(items, focus.CostItem{
			BillingPeriodStart:   adapter.RawTime(r.Data, "time_period_start", dateLayout),
			BillingPeriodEnd:     adapter.RawTime(r.Data, "time_period_end", dateLayout),
			ChargeCategory:       chargeCategory(recordType),
			ChargeType:           recordType,
			BilledCost:           billed,
			EffectiveCost:        effective,
			BillingCurrency:      currency,
			ServiceName:          adapter.RawString(r.Data, "service"),
			RegionID:             adapter.RawString(r.Data, "region"),
			ResourceID:           adapter.RawString(r.Data, "resource_id"),
			UsageQuantity:        adapter.RawFloat(r.Data, "usage_quantity"),
			UsageUnit:            adapter.RawString(r.Data, "usage_unit"),
			CommitmentDiscountID: adapter.RawString(r.Data, "savings_plan_arn"),
			ProviderName:         model.ProviderAWS,
			SubAccountID:         adapter.RawString(r.Data, "linked_account"),
			Tags:                 adapter.RawTags(r.Data, "tags", "user:"),
		})
	}
	return items
}

// ValidateCredentials checks the credential shape, then confirms identity
// with STS. A failed identity call means false, never an error.
func (a *Adapter) ValidateCredentials(ctx context.Context, creds adapter.Credentials) bool {
	if !model.HasCredentialShape(model.ProviderAWS, creds) {
		return false
	}
	cfg, err := a.buildConfig(ctx, creds)
	if err != nil {
		return false
	}
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := sts.NewFromConfig(cfg).GetCallerIdentity(callCtx, &sts.GetCallerIdentityInput{}); err != nil {
		a.logger.Warn("AWS credential check failed", "error", err)
		return false
	}
	return true
}

// ListResources inventories EC2 instances for the account.
func (a *Adapter) ListResources(ctx context.Context, creds adapter.Credentials) ([]adapter.Resource, error) {
	cfg, err := a.buildConfig(ctx, creds)
	if err != nil {
		return nil, adapter.NewAuthError(model.ProviderAWS, err)
	}
	client := ec2.NewFromConfig(cfg)

	var resources []adapter.Resource
	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				tags := make(model.Tags, len(instance.Tags))
				name := ""
				for _, t := range instance.Tags {
					key := aws.ToString(t.Key)
					tags[key] = aws.ToString(t.Value)
					if key == "Name" {
						name = aws.ToString(t.Value)
					}
				}
				resources = append(resources, adapter.Resource{
					ID:     aws.ToString(instance.InstanceId),
					Name:   name,
					Type:   string(instance.InstanceType),
					Region: cfg.Region,
					Tags:   tags,
				})
			}
		}
	}
	return resources, nil
}

// GetRecommendations fetches rightsizing, reserved instance, and savings
// plan recommendations concurrently. One sub-API being down must not block
// the others, so failures are logged and the successes collected.
func (a *Adapter) GetRecommendations(ctx context.Context, creds adapter.Credentials) ([]adapter.Recommendation, error) {
	cfg, err := a.buildConfig(ctx, creds)
	if err != nil {
		return nil, adapter.NewAuthError(model.ProviderAWS, err)
	}
	client := costexplorer.NewFromConfig(cfg)

	var (
		mu   sync.Mutex
		recs []adapter.Recommendation
	)
	collect := func(name string, fetch func(context.Context) ([]adapter.Recommendation, error)) func() error {
		return func() error {
			got, err := fetch(ctx)
			if err != nil {
				a.logger.Warn("recommendation fetch failed", "category", name, "error", err)
				return nil
			}
			mu.Lock()
			recs = append(recs, got...)
			mu.Unlock()
			return nil
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	g.Go(collect("rightsizing", func(ctx context.Context) ([]adapter.Recommendation, error) {
		return a.rightsizingRecommendations(ctx, client)
	}))
	g.Go(collect("reserved_instances", func(ctx context.Context) ([]adapter.Recommendation, error) {
		return a.reservedInstanceRecommendations(ctx, client)
	}))
	g.Go(collect("savings_plans", func(ctx context.Context) ([]adapter.Recommendation, error) {
		return a.savingsPlanRecommendations(ctx, client)
	}))
	g.Wait()

	return recs, nil
}

func (a *Adapter) rightsizingRecommendations(ctx context.Context, client *costexplorer.Client) ([]adapter.Recommendation, error) {
	output, err := client.GetRightsizingRecommendation(ctx, &costexplorer.GetRightsizingRecommendationInput{
		Service: aws.String("AmazonEC2"),
		Configuration: &cetypes.RightsizingRecommendationConfiguration{
			RecommendationTarget: cetypes.RecommendationTargetSameInstanceFamily,
			BenefitsConsidered:   true,
		},
	})
	if err != nil {
		return nil, classify(err)
	}

	var recs []adapter.Recommendation
	for _, rec := range output.RightsizingRecommendations {
		if rec.RightsizingType != cetypes.RightsizingTypeModify || rec.ModifyRecommendationDetail == nil {
			continue
		}
		var savings float64
		target := "unknown"
		for _, t := range rec.ModifyRecommendationDetail.TargetInstances {
			savings += parseAmount(t.EstimatedMonthlySavings)
			if t.ResourceDetails != nil && t.ResourceDetails.EC2ResourceDetails != nil {
				target = aws.ToString(t.ResourceDetails.EC2ResourceDetails.InstanceType)
			}
		}
		resourceID := "unknown"
		if rec.CurrentInstance != nil {
			resourceID = aws.ToString(rec.CurrentInstance.ResourceId)
		}
		recs = append(recs, adapter.Recommendation{
			ID:               resourceID,
			Type:             "rightsizing",
			ResourceID:       resourceID,
			ResourceType:     "EC2 Instance",
			Description:      fmt.Sprintf("Resize to %s", target),
			EstimatedSavings: savings,
			Currency:         "USD",
		})
	}
	return recs, nil
}

func (a *Adapter) reservedInstanceRecommendations(ctx context.Context, client *costexplorer.Client) ([]adapter.Recommendation, error) {
	output, err := client.GetReservationPurchaseRecommendation(ctx, &costexplorer.GetReservationPurchaseRecommendationInput{
		Service:              aws.String("Amazon Elastic Compute Cloud - Compute"),
		LookbackPeriodInDays: cetypes.LookbackPeriodInDaysSixtyDays,
		TermInYears:          cetypes.TermInYearsOneYear,
		PaymentOption:        cetypes.PaymentOptionNoUpfront,
	})
	if err != nil {
		return nil, classify(err)
	}

	var recs []adapter.Recommendation
	for _, rec := range output.Recommendations {
		for _, detail := range rec.RecommendationDetails {
			instanceType := "unknown"
			if detail.InstanceDetails != nil && detail.InstanceDetails.EC2InstanceDetails != nil {
				instanceType = aws.ToString(detail.InstanceDetails.EC2InstanceDetails.InstanceType)
			}
			recs = append(recs, adapter.Recommendation{
				ID:               fmt.Sprintf("ri-%s", instanceType),
				Type:             "reserved_instances",
				ResourceType:     "EC2 Reserved Instance",
				Description:      fmt.Sprintf("Purchase %s reserved instances", instanceType),
				EstimatedSavings: parseAmount(detail.EstimatedMonthlySavingsAmount) * 12,
				Currency:         "USD",
			})
		}
	}
	return recs, nil
}

func (a *Adapter) savingsPlanRecommendations(ctx context.Context, client *costexplorer.Client) ([]adapter.Recommendation, error) {
	output, err := client.GetSavingsPlansPurchaseRecommendation(ctx, &costexplorer.GetSavingsPlansPurchaseRecommendationInput{
		SavingsPlansType:     cetypes.SupportedSavingsPlansTypeComputeSp,
		LookbackPeriodInDays: cetypes.LookbackPeriodInDaysSixtyDays,
		TermInYears:          cetypes.TermInYearsOneYear,
		PaymentOption:        cetypes.PaymentOptionNoUpfront,
	})
	if err != nil {
		return nil, classify(err)
	}

	var recs []adapter.Recommendation
	if output.SavingsPlansPurchaseRecommendation == nil {
		return recs, nil
	}
	for _, detail := range output.SavingsPlansPurchaseRecommendation.SavingsPlansPurchaseRecommendationDetails {
		offeringID := "unknown"
		if detail.SavingsPlansDetails != nil {
			offeringID = aws.ToString(detail.SavingsPlansDetails.OfferingId)
		}
		recs = append(recs, adapter.Recommendation{
			ID:               fmt.Sprintf("sp-%s", offeringID),
			Type:             "savings_plans",
			ResourceType:     "Savings Plan",
			Description:      fmt.Sprintf("Compute Savings Plan $%s/hr", aws.ToString(detail.HourlyCommitmentToPurchase)),
			EstimatedSavings: parseAmount(detail.EstimatedMonthlySavingsAmount) * 12,
			Currency:         "USD",
		})
	}
	return recs, nil
}

// buildConfig assembles an SDK config from the per-account credential map,
// assuming a role when one is configured.
func (a *Adapter) buildConfig(ctx context.Context, creds adapter.Credentials) (aws.Config, error) {
	region := creds["region"]
	if region == "" {
		region = defaultRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds["accessKeyId"], creds["secretAccessKey"], ""),
		),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("aws: failed to load config: %w", err)
	}

	if roleARN := creds["roleArn"]; roleARN != "" {
		stsClient := sts.NewFromConfig(cfg)
		provider := stscreds.NewAssumeRoleProvider(stsClient, roleARN, func(o *stscreds.AssumeRoleOptions) {
			if externalID := creds["externalId"]; externalID != "" {
				o.ExternalID = aws.String(externalID)
			}
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	return cfg, nil
}

func buildFilter(filters map[string][]string) *cetypes.Expression {
	var expressions []cetypes.Expression
	for _, dim := range []struct {
		key string
		ce  cetypes.Dimension
	}{
		{"service", cetypes.DimensionService},
		{"account", cetypes.DimensionLinkedAccount},
		{"region", cetypes.DimensionRegion},
	} {
		if values := filters[dim.key]; len(values) > 0 {
			expressions = append(expressions, cetypes.Expression{
				Dimensions: &cetypes.DimensionValues{Key: dim.ce, Values: values},
			})
		}
	}

	switch len(expressions) {
	case 0:
		return nil
	case 1:
		return &expressions[0]
	default:
		return &cetypes.Expression{And: expressions}
	}
}

// classify turns SDK failures into tagged pipeline errors by API error
// code, not message text.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return adapter.NewTimeoutError(model.ProviderAWS, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "Throttling", "LimitExceededException", "TooManyRequestsException":
			return adapter.NewRateLimitError(model.ProviderAWS, err)
		case "AccessDenied", "AccessDeniedException", "UnrecognizedClientException",
			"InvalidClientTokenId", "ExpiredToken", "OptInRequired", "UnauthorizedOperation":
			return adapter.NewAuthError(model.ProviderAWS, err)
		}
	}
	return fmt.Errorf("aws: cost explorer call failed: %w", err)
}

func chargeCategory(recordType string) focus.ChargeCategory {
	if c, ok := chargeCategories[recordType]; ok {
		return c
	}
	return focus.ChargeCategoryUsage
}

func parseAmount(s *string) float64 {
	if s == nil {
		return 0
	}
	f, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return 0
	}
	return f
}
