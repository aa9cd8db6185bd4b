// Package events contains a client for the FlexPrice event ingestion API.
// APIClient sends events synchronously; AsyncClient queues them and sends them in background, retrying transient failures.
package events
