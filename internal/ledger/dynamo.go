package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// DynamoAPI is the slice of the DynamoDB client the ledger uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoLedger is the remote backend. Balances live in a table keyed by
// lowercased address, and both mutations run as single UpdateItem calls so
// concurrent gateways sharing the table stay consistent without locks.
type DynamoLedger struct {
	client DynamoAPI
	table  string
	logger *zap.Logger
}

// NewDynamoLedger builds a ledger over the default AWS credential chain.
func NewDynamoLedger(ctx context.Context, table string, logger *zap.Logger) (*DynamoLedger, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, &StorageError{Backend: "dynamodb", Err: err}
	}

	logger.Info("dynamodb client initialized", zap.String("table", table))

	return NewDynamoLedgerWithClient(dynamodb.NewFromConfig(cfg), table, logger), nil
}

// NewDynamoLedgerWithClient injects a prebuilt client, used by tests.
func NewDynamoLedgerWithClient(client DynamoAPI, table string, logger *zap.Logger) *DynamoLedger {
	return &DynamoLedger{client: client, table: table, logger: logger}
}

func (l *DynamoLedger) key(address string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"address": &types.AttributeValueMemberS{Value: strings.ToLower(address)},
	}
}

func (l *DynamoLedger) Get(ctx context.Context, address string) (UserRecord, bool, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.table),
		Key:       l.key(address),
	})
	if err != nil {
		return UserRecord{}, false, &StorageError{Backend: "dynamodb", Err: err}
	}
	if out.Item == nil {
		return UserRecord{}, false, nil
	}

	balance, err := numberAttr(out.Item, "balance")
	if err != nil {
		return UserRecord{}, false, err
	}
	timestamp, err := numberAttr(out.Item, "latest_timestamp")
	if err != nil {
		return UserRecord{}, false, err
	}

	return UserRecord{Balance: balance, LatestTimestamp: timestamp}, true, nil
}

// Credit adds to the balance, creating the item when absent. The timestamp
// is only initialized, never advanced, so a top-up cannot mask a stale
// request counter.
func (l *DynamoLedger) Credit(ctx context.Context, address string, amount uint64) (uint64, error) {
	out, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(l.table),
		Key:              l.key(address),
		UpdateExpression: aws.String("SET balance = if_not_exists(balance, :zero) + :amount, latest_timestamp = if_not_exists(latest_timestamp, :zero)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":amount": &types.AttributeValueMemberN{Value: strconv.FormatUint(amount, 10)},
			":zero":   &types.AttributeValueMemberN{Value: "0"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return 0, &StorageError{Backend: "dynamodb", Err: err}
	}

	balance, err := numberAttr(out.Attributes, "balance")
	if err != nil {
		return 0, err
	}

	l.logger.Info("balance added",
		zap.String("address", strings.ToLower(address)),
		zap.Uint64("added", amount),
		zap.Uint64("new_balance", balance),
	)

	return balance, nil
}

// Debit subtracts from the balance and stamps the request timestamp. The
// condition expression rejects both missing items and underflows; DynamoDB
// does not report the failing balance, so the error carries Has of zero.
func (l *DynamoLedger) Debit(ctx context.Context, address string, amount uint64, timestamp uint64) (uint64, error) {
	out, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(l.table),
		Key:                 l.key(address),
		UpdateExpression:    aws.String("SET balance = balance - :amount, latest_timestamp = :ts"),
		ConditionExpression: aws.String("attribute_exists(balance) AND balance >= :amount"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":amount": &types.AttributeValueMemberN{Value: strconv.FormatUint(amount, 10)},
			":ts":     &types.AttributeValueMemberN{Value: strconv.FormatUint(timestamp, 10)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return 0, &InsufficientBalanceError{Has: 0, Need: amount}
		}
		return 0, &StorageError{Backend: "dynamodb", Err: err}
	}

	balance, err := numberAttr(out.Attributes, "balance")
	if err != nil {
		return 0, err
	}

	l.logger.Debug("balance deducted",
		zap.String("address", strings.ToLower(address)),
		zap.Uint64("deducted", amount),
		zap.Uint64("remaining", balance),
	)

	return balance, nil
}

func (l *DynamoLedger) Close() error {
	return nil
}

func numberAttr(item map[string]types.AttributeValue, name string) (uint64, error) {
	attr, ok := item[name]
	if !ok {
		return 0, &AttributeError{Name: name}
	}
	n, ok := attr.(*types.AttributeValueMemberN)
	if !ok {
		return 0, &ParseError{Name: name, Value: "non-numeric attribute"}
	}
	value, err := strconv.ParseUint(n.Value, 10, 64)
	if err != nil {
		return 0, &ParseError{Name: name, Value: n.Value}
	}
	return value, nil
}
