package shared

// Catalog permission names referenced by route guards.
const (
	PermMembersView   = "members.view"
	PermMembersCreate = "members.create"
	PermMembersEdit   = "members.edit"
	PermMembersDelete = "members.delete"
	PermMembersExport = "members.export"

	PermFinancialView   = "financial.view"
	PermFinancialCreate = "financial.create"
	PermFinancialEdit   = "financial.edit"
	PermFinancialDelete = "financial.delete"
	PermFinancialExport = "financial.export"

	PermEventsView   = "events.view"
	PermEventsCreate = "events.create"
	PermEventsEdit   = "events.edit"
	PermEventsDelete = "events.delete"

	PermAnnouncementsView   = "announcements.view"
	PermAnnouncementsCreate = "announcements.create"
	PermAnnouncementsEdit   = "announcements.edit"
	PermAnnouncementsDelete = "announcements.delete"

	PermNotificationsView   = "notifications.view"
	PermNotificationsCreate = "notifications.create"

	PermReportsView   = "reports.view"
	PermReportsExport = "reports.export"

	PermUsersView        = "users.view"
	PermUsersCreate      = "users.create"
	PermUsersEdit        = "users.edit"
	PermUsersDelete      = "users.delete"
	PermUsersPermissions = "users.permissions"
	PermUsersAudit       = "users.audit"

	PermSettingsView = "settings.view"
	PermSettingsEdit = "settings.edit"
)
