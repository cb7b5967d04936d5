package dataset

// Students is the second-classroom student roster.
var Students = Dataset{
	Name:        "students",
	ListingPath: "/student/list?type=4",
	Shape:       []string{"code", "name"},
	KeyField:    "code",
	Table:       "students",
	Columns: []Column{
		{Name: "code", Source: "code", Kind: Text},
		{Name: "id", Source: "id", Kind: Integer},
		{Name: "name", Source: "name", Kind: Text},
		{Name: "gender", Source: "gender", Kind: Integer},
		{Name: "ethnic", Source: "ethnic", Kind: Text},
		{Name: "ethnic_id", Source: "ethnicId", Kind: Integer},
		{Name: "politics", Source: "politics", Kind: Integer},
		{Name: "mobile", Source: "mobile", Kind: Text},
		{Name: "identity", Source: "identity", Kind: Integer},
		{Name: "campus_id", Source: "campusId", Kind: Integer},
		{Name: "campus_name", Source: "campusName", Kind: Text},
		{Name: "college_id", Source: "collegeId", Kind: Integer},
		{Name: "college_name", Source: "collegeName", Kind: Text},
		{Name: "major_id", Source: "majorId", Kind: Integer},
		{Name: "major_name", Source: "majorName", Kind: Text},
		{Name: "class_id", Source: "classId", Kind: Integer},
		{Name: "class_name", Source: "className", Kind: Text},
		{Name: "grade", Source: "grade", Kind: Integer},
		{Name: "grade_name", Source: "gradeName", Kind: Text},
		{Name: "length_name", Source: "lengthName", Kind: Text},
		{Name: "credit", Source: "credit", Kind: Decimal},
		{Name: "sum_score", Source: "sumScore", Kind: Decimal},
		{Name: "user_class_pass", Source: "userClassPass", Kind: Text},
		{Name: "status", Source: "status", Kind: Integer},
		{Name: "leave_total_num", Source: "leaveTotalNum", Kind: Counter},
		{Name: "leave_success_num", Source: "leaveSuccessNum", Kind: Counter},
		{Name: "leave_fail_num", Source: "leaveFailNum", Kind: Counter},
	},
	RangeColumn:  "id",
	ReportGroups: []string{"grade_name", "college_name"},
}

// Activities is the activity catalogue.
var Activities = Dataset{
	Name:        "activities",
	ListingPath: "/communist/activityDown?oto=0",
	Shape:       []string{"actId", "name"},
	KeyField:    "actId",
	Table:       "activities",
	Columns: []Column{
		{Name: "act_id", Source: "actId", Kind: Integer},
		{Name: "name", Source: "name", Kind: Text},
		{Name: "class_id", Source: "classId", Kind: Integer},
		{Name: "class_name", Source: "className", Kind: Text},
		{Name: "org_id", Source: "orgId", Kind: Integer},
		{Name: "org_name", Source: "orgName", Kind: Text},
		{Name: "admin_id", Source: "adminId", Kind: Integer},
		{Name: "admin_code", Source: "adminCode", Kind: Text},
		{Name: "admin_name", Source: "adminName", Kind: Text},
		{Name: "creator_id", Source: "creatorId", Kind: Integer},
		{Name: "hours", Source: "hours", Kind: Decimal},
		{Name: "start_time", Source: "startTime", Kind: Timestamp},
		{Name: "end_time", Source: "endTime", Kind: Timestamp},
		{Name: "enroll_end_time", Source: "enrollEndTime", Kind: Timestamp},
		{Name: "status", Source: "status", Kind: Integer},
		{Name: "apply_status", Source: "applyStatus", Kind: Integer},
		{Name: "status_all", Source: "statusAll", Kind: Integer},
		{Name: "oto", Source: "oto", Kind: Integer},
		{Name: "edit_activity", Source: "editActivity", Kind: Integer},
		{Name: "chenge_status", Source: "chengeStatus", Kind: Integer},
		{Name: "finish_status", Source: "finishStatus", Kind: Text},
		{Name: "finish_status2", Source: "finishStatus2", Kind: Text},
	},
	RangeColumn:  "act_id",
	ReportGroups: []string{"class_name", "org_name"},
}

func init() {
	register(Students)
	register(Activities)
}
