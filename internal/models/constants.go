package models

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusDriverAssigned OrderStatus = "driver_assigned"
	OrderStatusPickedUp       OrderStatus = "picked_up"
	OrderStatusInTransit      OrderStatus = "in_transit"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

type Role string

const (
	RoleRecipient Role = "recipient"
	RoleCourier   Role = "courier"
	RoleDelivery  Role = "delivery"
)

// Accuracy is the fix quality requested from a position source, or reported
// for a geocode result.
type Accuracy string

const (
	AccuracyHigh     Accuracy = "high"
	AccuracyBalanced Accuracy = "balanced"
	AccuracyLow      Accuracy = "low"
)

type GeocodeSource string

const (
	SourceCache    GeocodeSource = "cache"
	SourceProvider GeocodeSource = "provider"
	SourceFallback GeocodeSource = "fallback"
)

type ConnectionStatus string

const (
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

type Health string

const (
	HealthExcellent Health = "excellent"
	HealthGood      Health = "good"
	HealthDegraded  Health = "degraded"
	HealthCritical  Health = "critical"
)
