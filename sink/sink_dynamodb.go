package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/baldanca/widget-consumer/request"
	"github.com/baldanca/widget-consumer/transformer"
)

type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoTable stores flat widget records in a DynamoDB table whose partition
// key is the string attribute "id".
type DynamoTable struct {
	client dynamoAPI
	tr     transformer.Table

	table    string
	tablePtr *string
}

func NewDynamoTable(client dynamoAPI, table string, policy transformer.CollisionPolicy) *DynamoTable {
	if client == nil {
		panic("dynamodb client is required")
	}
	if strings.TrimSpace(table) == "" {
		panic("table is required")
	}

	s := &DynamoTable{
		client: client,
		tr:     transformer.Table{Policy: policy},
		table:  table,
	}
	s.tablePtr = &s.table
	return s
}

func (s *DynamoTable) Name() string { return "dynamodb" }

func (s *DynamoTable) Create(ctx context.Context, r *request.Request) error {
	rec, err := s.tr.Transform(ctx, r)
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal widget %s: %w", r.WidgetID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: s.tablePtr,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put dynamodb item table=%q id=%q: %w", s.table, rec.ID(), err)
	}
	return nil
}

// Update sets every field of the transformed request on the existing item.
// Fields absent from the request are left as they are.
func (s *DynamoTable) Update(ctx context.Context, r *request.Request) error {
	rec, err := s.tr.Transform(ctx, r)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(rec))
	for name := range rec {
		if name != transformer.FieldID {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	exprNames := map[string]string{"#id": transformer.FieldID}
	exprValues := make(map[string]ddbtypes.AttributeValue, len(names))
	sets := make([]string, 0, len(names))
	for i, name := range names {
		n, v := "#f"+strconv.Itoa(i), ":v"+strconv.Itoa(i)
		exprNames[n] = name
		exprValues[v] = &ddbtypes.AttributeValueMemberS{Value: rec[name]}
		sets = append(sets, n+" = "+v)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 s.tablePtr,
		Key:                       s.key(rec.ID()),
		UpdateExpression:          strPtr("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       strPtr("attribute_exists(#id)"),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
	})
	if err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("update dynamodb item table=%q id=%q: %w", s.table, rec.ID(), ErrNotFound)
		}
		return fmt.Errorf("update dynamodb item table=%q id=%q: %w", s.table, rec.ID(), err)
	}
	return nil
}

func (s *DynamoTable) Delete(ctx context.Context, r *request.Request) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: s.tablePtr,
		Key:       s.key(r.WidgetID),
	})
	if err != nil {
		return fmt.Errorf("delete dynamodb item table=%q id=%q: %w", s.table, r.WidgetID, err)
	}
	return nil
}

func (s *DynamoTable) key(id string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		transformer.FieldID: &ddbtypes.AttributeValueMemberS{Value: id},
	}
}

func strPtr(s string) *string { return &s }
