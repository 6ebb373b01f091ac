package qbsync

import "time"

// APIResponse is the common response envelope.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func successResponse(message string, data interface{}) APIResponse {
	return APIResponse{Status: "success", Message: message, Data: data}
}

func errorResponse(message string) APIResponse {
	return APIResponse{Status: "error", Message: message, Data: nil}
}

type BatchSyncRequest struct {
	TransactionTypes []string `json:"transactionTypes" binding:"omitempty,dive,oneof=invoice payment"`
}

type CallbackRequest struct {
	Code    string `json:"code" form:"code" binding:"required"`
	RealmId string `json:"realmId" form:"realmId" binding:"required"`
	State   string `json:"state" form:"state"`
}

type ConnectionStatusResponse struct {
	Provider              string     `json:"provider"`
	Connected             bool       `json:"connected"`
	RealmId               string     `json:"realmId,omitempty"`
	CompanyName           string     `json:"companyName,omitempty"`
	ConnectedAt           *time.Time `json:"connectedAt,omitempty"`
	DisconnectedAt        *time.Time `json:"disconnectedAt,omitempty"`
	AccessTokenExpiresAt  *time.Time `json:"accessTokenExpiresAt,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refreshTokenExpiresAt,omitempty"`
}

type AuthorizeURLResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
	State            string `json:"state"`
}

// SyncPubSubPayload is the message body published to trigger an async run.
type SyncPubSubPayload struct {
	BusinessId       string   `json:"businessId"`
	ConnectionId     uint     `json:"connectionId"`
	TransactionTypes []string `json:"transactionTypes"`
	CorrelationId    string   `json:"correlationId,omitempty"`
}

// PubSubPushEnvelope is the wrapper Google delivers on push subscriptions.
type PubSubPushEnvelope struct {
	Message struct {
		Data      []byte `json:"data,omitempty"`
		MessageId string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}
