// Package export archives normalized cost line items to S3 as CSV.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/costlens/backend/internal/focus"
	"github.com/costlens/backend/internal/model"
	"github.com/costlens/backend/internal/repository"
)

const pageSize = 5000

// S3API is the slice of the S3 client the archiver needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes per-account CSV snapshots of the cost ledger to S3.
type Archiver struct {
	client S3API
	costs  repository.CostLineRepository
	bucket string
	prefix string
	logger *slog.Logger
}

// NewArchiver creates the archiver.
func NewArchiver(client S3API, costs repository.CostLineRepository, bucket, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		client: client,
		costs:  costs,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

var csvHeader = []string{
	"billing_period_start", "billing_period_end", "charge_category", "charge_type",
	"billed_cost", "effective_cost", "billing_currency",
	"service_name", "region_id", "resource_id", "provider_name", "sub_account_id",
}

// Archive exports the account's line items for the window and returns the
// object key written.
func (a *Archiver) Archive(ctx context.Context, accountID uuid.UUID, window model.DateRange) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("export: failed to write header: %w", err)
	}

	total := 0
	for offset := 0; ; offset += pageSize {
		items, err := a.costs.ListByAccount(ctx, accountID, window, pageSize, offset)
		if err != nil {
			return "", fmt.Errorf("export: failed to page cost lines: %w", err)
		}
		for _, item := range items {
			if err := w.Write(csvRow(item)); err != nil {
				return "", fmt.Errorf("export: failed to write row: %w", err)
			}
		}
		total += len(items)
		if len(items) < pageSize {
			break
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("export: failed to flush csv: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s_%s.csv",
		a.prefix, accountID,
		window.Start.Format("20060102"), window.End.Format("20060102"),
	)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("export: failed to upload archive: %w", err)
	}

	a.logger.Info("cost archive exported", "key", key, "rows", total)
	return key, nil
}

func csvRow(item focus.CostItem) []string {
	return []string{
		item.BillingPeriodStart.Format(time.RFC3339),
		item.BillingPeriodEnd.Format(time.RFC3339),
		string(item.ChargeCategory),
		item.ChargeType,
		strconv.FormatFloat(item.BilledCost, 'f', -1, 64),
		strconv.FormatFloat(item.EffectiveCost, 'f', -1, 64),
		string(item.BillingCurrency),
		item.ServiceName,
		item.RegionID,
		item.ResourceID,
		string(item.ProviderName),
		item.SubAccountID,
	}
}
