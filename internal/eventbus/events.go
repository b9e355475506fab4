package eventbus

// Event types published by the core. Subscribers filter on these names.
const (
	// Notification lifecycle, consumed by the toast/tray shell.
	EventNotificationDisplayed = "notification.displayed"
	EventNotificationAction    = "notification.action"
	EventNotificationDismissed = "notification.dismissed"

	// Scheduler status changes (state + failure count), consumed by any
	// status display. "monitoring suspended" surfaces through this.
	EventSchedulerStatus = "scheduler.status"

	// One event per completed scan, with counts.
	EventScanCompleted = "scan.completed"
)
