package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"medical-interpreter/internal/domain"
)

const (
	skPrefixMsg   = "MSG#"
	skPrefixEvent = "EVENT#"
	skMeta        = "META"
	skSummary     = "SUMMARY"
	ttlDuration   = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores sessions in a single DynamoDB table. Every item of a session
// shares the partition key SESSION#<id>; the sort key tells them apart:
//
//	META          session record and committed turn count
//	MSG#00000042  message log, one item per turn
//	SUMMARY       rolling summary, overwritten each turn
//	EVENT#<ts>#.. refused turns
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// msgSK zero-pads the turn index so sort order is turn order.
func msgSK(turn int) string {
	return fmt.Sprintf("%s%08d", skPrefixMsg, turn)
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// CreateSession writes a new session record.
func (c *Client) CreateSession(ctx context.Context, s domain.Session) error {
	if s.ID == "" {
		return errors.New("repository: CreateSession: session id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                c.sessionItem(s),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateSession: %w", err)
	}
	return nil
}

// GetSession reads the session record.
func (c *Client) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(sessionPK(sessionID), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetSession get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	s, err := itemToSession(out.Item)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetSession decode: %w", err)
	}
	return s, nil
}

// CloseSession marks the session closed. Closing twice is not an error.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(sessionPK(sessionID), skMeta),
		UpdateExpression:    aws.String("SET #status = :closed, lastActivity = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":closed": &types.AttributeValueMemberS{Value: string(domain.SessionClosed)},
			":now":    &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("repository: CloseSession: %w", err)
	}
	return nil
}

// ListMessages returns the message log in turn order.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}

	var msgs []domain.Message
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return msgs, nil
}

// GetSummary reads the rolling summary. A missing record is an empty summary.
func (c *Client) GetSummary(ctx context.Context, sessionID string) (domain.SessionSummary, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(sessionPK(sessionID), skSummary),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.SessionSummary{}, fmt.Errorf("repository: GetSummary get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.SessionSummary{SessionID: sessionID, LastUpdatedTurn: -1}, nil
	}
	s, err := itemToSummary(out.Item)
	if err != nil {
		return domain.SessionSummary{}, fmt.Errorf("repository: GetSummary decode: %w", err)
	}
	s.SessionID = sessionID
	return s, nil
}

// SaveTurn appends msg, bumps the session's turn count and overwrites the
// summary in one transaction. The transaction is rejected when the turn
// index was already used or the session is not active.
func (c *Client) SaveTurn(ctx context.Context, msg domain.Message, summary domain.SessionSummary) error {
	if msg.SessionID == "" {
		return errors.New("repository: SaveTurn: message session id is required")
	}
	pk := sessionPK(msg.SessionID)

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                c.messageItem(msg),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName:           aws.String(c.tableName),
					Key:                 key(pk, skMeta),
					UpdateExpression:    aws.String("SET turns = :next, lastActivity = :now"),
					ConditionExpression: aws.String("turns = :prev AND #status = :active"),
					// Old item comes back in the cancellation reason.
					ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
					ExpressionAttributeNames: map[string]string{
						"#status": "status",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":next":   &types.AttributeValueMemberN{Value: strconv.Itoa(msg.TurnIndex + 1)},
						":prev":   &types.AttributeValueMemberN{Value: strconv.Itoa(msg.TurnIndex)},
						":active": &types.AttributeValueMemberS{Value: string(domain.SessionActive)},
						":now":    &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
					},
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      c.summaryItem(pk, summary),
				},
			},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			if metaNotActive(canceled.CancellationReasons) {
				return fmt.Errorf("repository: SaveTurn: %w: %v", domain.ErrSessionClosed, err)
			}
			return fmt.Errorf("repository: SaveTurn: %w: %v", domain.ErrTurnConflict, err)
		}
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// metaNotActive reports whether the session META update (second transact
// item) failed because the session is no longer active.
func metaNotActive(reasons []types.CancellationReason) bool {
	if len(reasons) < 2 {
		return false
	}
	r := reasons[1]
	if aws.ToString(r.Code) != "ConditionalCheckFailed" {
		return false
	}
	if len(r.Item) == 0 {
		// Missing META item: the session is gone.
		return true
	}
	status, err := strAttr(r.Item, "status")
	return err == nil && status != string(domain.SessionActive)
}

// SaveSafetyEvent records a refused turn outside the message log.
func (c *Client) SaveSafetyEvent(ctx context.Context, ev domain.SafetyEvent) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":         &types.AttributeValueMemberS{Value: sessionPK(ev.SessionID)},
			"SK":         &types.AttributeValueMemberS{Value: skPrefixEvent + ts.UTC().Format(time.RFC3339Nano) + "#" + newEventID()},
			"senderRole": &types.AttributeValueMemberS{Value: string(ev.SenderRole)},
			"maskedText": &types.AttributeValueMemberS{Value: string(ev.MaskedText)},
			"reason":     &types.AttributeValueMemberS{Value: ev.ReasonCode},
			"ttl":        &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveSafetyEvent: %w", err)
	}
	return nil
}

var newEventID = func() string {
	return uuid.NewString()[:8]
}

func (c *Client) sessionItem(s domain.Session) map[string]types.AttributeValue {
	status := s.Status
	if status == "" {
		status = domain.SessionActive
	}
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: sessionPK(s.ID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"sessionId":    &types.AttributeValueMemberS{Value: s.ID},
		"doctorId":     &types.AttributeValueMemberS{Value: s.DoctorID},
		"patientId":    &types.AttributeValueMemberS{Value: s.PatientID},
		"createdAt":    &types.AttributeValueMemberS{Value: s.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"lastActivity": &types.AttributeValueMemberS{Value: s.CreatedAt.UTC().Format(time.RFC3339)},
		"status":       &types.AttributeValueMemberS{Value: string(status)},
		"turns":        &types.AttributeValueMemberN{Value: strconv.Itoa(s.Turns)},
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
}

func (c *Client) messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":               &types.AttributeValueMemberS{Value: sessionPK(msg.SessionID)},
		"SK":               &types.AttributeValueMemberS{Value: msgSK(msg.TurnIndex)},
		"messageId":        &types.AttributeValueMemberS{Value: msg.ID},
		"sessionId":        &types.AttributeValueMemberS{Value: msg.SessionID},
		"turnIndex":        &types.AttributeValueMemberN{Value: strconv.Itoa(msg.TurnIndex)},
		"senderRole":       &types.AttributeValueMemberS{Value: string(msg.SenderRole)},
		"rawText":          &types.AttributeValueMemberS{Value: msg.RawText},
		"maskedText":       &types.AttributeValueMemberS{Value: string(msg.MaskedText)},
		"translatedMasked": &types.AttributeValueMemberS{Value: string(msg.TranslatedMasked)},
		"intent":           &types.AttributeValueMemberS{Value: string(msg.DetectedIntent)},
		"unreviewed":       &types.AttributeValueMemberBOOL{Value: msg.Unreviewed},
		"timestamp":        &types.AttributeValueMemberS{Value: msg.Timestamp.UTC().Format(time.RFC3339Nano)},
		"ttl":              &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
}

func (c *Client) summaryItem(pk string, s domain.SessionSummary) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: pk},
		"SK":              &types.AttributeValueMemberS{Value: skSummary},
		"keySymptoms":     stringList(s.KeySymptoms),
		"keyDecisions":    stringList(s.KeyDecisions),
		"lastUpdatedTurn": &types.AttributeValueMemberN{Value: strconv.Itoa(s.LastUpdatedTurn)},
		"ttl":             &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
}

func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	id, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Session{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.Session{}, err
	}
	turns, err := intAttr(item, "turns")
	if err != nil {
		return domain.Session{}, err
	}
	doctorID, _ := strAttr(item, "doctorId")
	patientID, _ := strAttr(item, "patientId")
	created, _ := timeAttr(item, "createdAt")
	return domain.Session{
		ID:        id,
		DoctorID:  doctorID,
		PatientID: patientID,
		CreatedAt: created,
		Status:    domain.SessionStatus(status),
		Turns:     turns,
	}, nil
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	sessionID, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Message{}, err
	}
	turn, err := intAttr(item, "turnIndex")
	if err != nil {
		return domain.Message{}, err
	}
	masked, err := strAttr(item, "maskedText")
	if err != nil {
		return domain.Message{}, err
	}
	id, _ := strAttr(item, "messageId")
	role, _ := strAttr(item, "senderRole")
	raw, _ := strAttr(item, "rawText")
	translated, _ := strAttr(item, "translatedMasked")
	intent, _ := strAttr(item, "intent")
	ts, _ := timeAttr(item, "timestamp")
	unreviewed := false
	if b, ok := item["unreviewed"].(*types.AttributeValueMemberBOOL); ok {
		unreviewed = b.Value
	}
	return domain.Message{
		ID:               id,
		SessionID:        sessionID,
		TurnIndex:        turn,
		SenderRole:       domain.SenderRole(role),
		RawText:          raw,
		MaskedText:       domain.MaskedText(masked),
		TranslatedMasked: domain.MaskedText(translated),
		DetectedIntent:   domain.Intent(intent),
		Unreviewed:       unreviewed,
		Timestamp:        ts,
	}, nil
}

func itemToSummary(item map[string]types.AttributeValue) (domain.SessionSummary, error) {
	turn, err := intAttr(item, "lastUpdatedTurn")
	if err != nil {
		return domain.SessionSummary{}, err
	}
	return domain.SessionSummary{
		KeySymptoms:     listAttr(item, "keySymptoms"),
		KeyDecisions:    listAttr(item, "keyDecisions"),
		LastUpdatedTurn: turn,
	}, nil
}

func stringList(vals []string) *types.AttributeValueMemberL {
	l := &types.AttributeValueMemberL{Value: make([]types.AttributeValue, 0, len(vals))}
	for _, v := range vals {
		l.Value = append(l.Value, &types.AttributeValueMemberS{Value: v})
	}
	return l
}

func listAttr(item map[string]types.AttributeValue, key string) []string {
	l, ok := item[key].(*types.AttributeValueMemberL)
	if !ok || len(l.Value) == 0 {
		return nil
	}
	out := make([]string, 0, len(l.Value))
	for _, v := range l.Value {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			out = append(out, s.Value)
		}
	}
	return out
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
