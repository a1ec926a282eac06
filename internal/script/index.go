package script

// Package script registers remote functions implemented in JavaScript.
//
// Scripts are .js files loaded from a directory at startup. Each script must define:
//   - A @query or @command directive naming the function
//   - An execute(params, remote) function
//
// remote.call(name, params) invokes any registered function and returns its
// result. remote.batchCall([{name, params}, ...]) runs several calls at once,
// so calls to batch functions share a single resolver call.
//
// Example script:
//
//	// @query getTeamOfLead
//	function execute(params, remote) {
//	    var org = remote.call("getOrganizationDetails", { orgId: params.orgId });
//	    var project = remote.call("getProjectInfo", { projectId: org.primaryProjectId });
//	    var lead = remote.call("getUserProfile", { userId: project.leadUserId });
//	    return remote.call("getTeamMembers", { teamId: lead.teamId });
//	}
//
// Throwing an object with numeric status and a message, e.g.
// throw { status: 404, message: "not found" }, reports an expected error.
