package shared

// Portal permissions. Viewing and publishing are deliberately separate scopes
// so reviewers without publish rights cannot flip visibility.
const (
	PermSubjectsView = "subjects.view"
	PermSubjectsEdit = "subjects.edit"

	PermConsentView   = "consent.view"
	PermConsentManage = "consent.manage"

	PermMediaView    = "media.view"
	PermMediaVerify  = "media.verify"
	PermMediaPublish = "media.publish"

	PermAuditView = "audit.view"

	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"
)

// PortalScopes lists all permissions known to the portal.
func PortalScopes() []string {
	return []string{
		PermSubjectsView,
		PermSubjectsEdit,
		PermConsentView,
		PermConsentManage,
		PermMediaView,
		PermMediaVerify,
		PermMediaPublish,
		PermAuditView,
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
	}
}
