package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-otp-auth/internal/domain"
)

type otpItem struct {
	Identifier string `dynamodbav:"identifier"`
	CodeHash   string `dynamodbav:"code_hash"`
	IssuedAt   int64  `dynamodbav:"issued_at"`
	ExpiresAt  int64  `dynamodbav:"expires_at"`
	TTL        int64  `dynamodbav:"ttl"`
}

type blockItem struct {
	Identifier     string `dynamodbav:"identifier"`
	FailedAttempts int    `dynamodbav:"failed_attempts"`
	BlockExpiresAt *int64 `dynamodbav:"block_expires_at,omitempty"`
	Version        int64  `dynamodbav:"version"`
	TTL            int64  `dynamodbav:"ttl,omitempty"`
}

// LedgerStore keeps OTP and block records in two tables keyed by identifier.
type LedgerStore struct {
	client      API
	otpTable    string
	blocksTable string
}

func NewLedgerStore(client API, otpTable, blocksTable string) *LedgerStore {
	return &LedgerStore{client: client, otpTable: otpTable, blocksTable: blocksTable}
}

func (s *LedgerStore) GetOTP(ctx context.Context, identifier string) (*domain.OTPRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.otpTable),
		Key:            strKey(attrIdentifier, identifier),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get otp: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("otp for %q: %w", identifier, domain.ErrNotFound)
	}
	var it otpItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal otp: %w", err)
	}
	return &domain.OTPRecord{
		Identifier: it.Identifier,
		CodeHash:   it.CodeHash,
		IssuedAt:   fromUnixNano(it.IssuedAt),
		ExpiresAt:  fromUnixNano(it.ExpiresAt),
	}, nil
}

func (s *LedgerStore) PutOTP(ctx context.Context, rec *domain.OTPRecord) error {
	item, err := attributevalue.MarshalMap(otpItem{
		Identifier: rec.Identifier,
		CodeHash:   rec.CodeHash,
		IssuedAt:   toUnixNano(rec.IssuedAt),
		ExpiresAt:  toUnixNano(rec.ExpiresAt),
		TTL:        rec.ExpiresAt.Add(ttlGrace).Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal otp: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.otpTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put otp: %w", err)
	}
	return nil
}

func (s *LedgerStore) DeleteOTP(ctx context.Context, identifier string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.otpTable),
		Key:       strKey(attrIdentifier, identifier),
	})
	if err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}

func (s *LedgerStore) GetBlock(ctx context.Context, identifier string) (*domain.BlockRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.blocksTable),
		Key:            strKey(attrIdentifier, identifier),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("block for %q: %w", identifier, domain.ErrNotFound)
	}
	var it blockItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal block: %w", err)
	}
	b := &domain.BlockRecord{
		Identifier:     it.Identifier,
		FailedAttempts: it.FailedAttempts,
		Version:        it.Version,
	}
	if it.BlockExpiresAt != nil {
		t := fromUnixNano(*it.BlockExpiresAt)
		b.BlockExpiresAt = &t
	}
	return b, nil
}

// CompareAndSwapBlock writes next under a condition on the stored version.
// expected 0 requires that no record exists yet.
func (s *LedgerStore) CompareAndSwapBlock(ctx context.Context, expected int64, next *domain.BlockRecord) error {
	it := blockItem{
		Identifier:     next.Identifier,
		FailedAttempts: next.FailedAttempts,
		Version:        expected + 1,
	}
	if next.BlockExpiresAt != nil {
		n := toUnixNano(*next.BlockExpiresAt)
		it.BlockExpiresAt = &n
		// The counter outlives the window so a lapsed block re-blocks on the next miss.
		it.TTL = next.BlockExpiresAt.Add(ttlGrace).Unix()
	}
	item, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.blocksTable),
		Item:      item,
	}
	if expected == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(#id)")
		in.ExpressionAttributeNames = map[string]string{"#id": attrIdentifier}
	} else {
		in.ConditionExpression = aws.String("#v = :expected")
		in.ExpressionAttributeNames = map[string]string{"#v": attrVersion}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{":expected": numValue(expected)}
	}

	if _, err := s.client.PutItem(ctx, in); err != nil {
		return asConflict(err, fmt.Sprintf("swap block for %q at version %d", next.Identifier, expected))
	}
	next.Version = it.Version
	return nil
}

func (s *LedgerStore) DeleteBlock(ctx context.Context, identifier string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.blocksTable),
		Key:       strKey(attrIdentifier, identifier),
	})
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// DeleteExpiredOTPs scans for records past expiry and deletes each one,
// guarded so that a code re-issued since the scan is kept.
func (s *LedgerStore) DeleteExpiredOTPs(ctx context.Context, now time.Time) (int, error) {
	cutoff := numValue(toUnixNano(now))
	var start map[string]types.AttributeValue
	n := 0
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.otpTable),
			FilterExpression:          aws.String("#e < :now"),
			ProjectionExpression:      aws.String("#id"),
			ExpressionAttributeNames:  map[string]string{"#e": attrExpiresAt, "#id": attrIdentifier},
			ExpressionAttributeValues: map[string]types.AttributeValue{":now": cutoff},
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return n, fmt.Errorf("scan expired otps: %w", err)
		}
		for _, item := range out.Items {
			_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:                 aws.String(s.otpTable),
				Key:                       map[string]types.AttributeValue{attrIdentifier: item[attrIdentifier]},
				ConditionExpression:       aws.String("#e < :now"),
				ExpressionAttributeNames:  map[string]string{"#e": attrExpiresAt},
				ExpressionAttributeValues: map[string]types.AttributeValue{":now": cutoff},
			})
			if err != nil {
				var ccf *types.ConditionalCheckFailedException
				if errors.As(err, &ccf) {
					continue
				}
				return n, fmt.Errorf("delete expired otp: %w", err)
			}
			n++
		}
		if len(out.LastEvaluatedKey) == 0 {
			return n, nil
		}
		start = out.LastEvaluatedKey
	}
}
