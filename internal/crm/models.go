package crm

// RecordKind is the CRM object a party lookup targets.
type RecordKind string

const (
	KindContact RecordKind = "Contact"
	KindLead    RecordKind = "Lead"
)

// Party is a Contact or Lead matched by phone.
type Party struct {
	Kind RecordKind
	ID   string
	// AccountID is only set for contacts.
	AccountID string
	Name      string
}

// ActivityRecord is the Task created for one call. JSON names are the CRM
// field API names; pointer fields serialize as null when unset.
type ActivityRecord struct {
	Subject               string `json:"Subject"`
	Status                string `json:"Status"`
	ActivityDate          string `json:"ActivityDate"`
	Priority              string `json:"Priority"`
	TaskSubtype           string `json:"TaskSubtype"`
	CallType              string `json:"CallType"`
	CallDurationInSeconds int    `json:"CallDurationInSeconds"`
	CallDisposition       string `json:"CallDisposition"`
	CallObject            string `json:"CallObject"`
	OwnerID               string `json:"OwnerId"`

	CallStartTime  string  `json:"rcsfl__call_start_time__c"`
	CallEndTime    string  `json:"rcsfl__call_end_time__c"`
	CallUniqueID   string  `json:"rcsfl__CALL_UNIQUE_ID__c"`
	CallerName     *string `json:"rcsfl__caller_name__c"`
	CalleeName     *string `json:"rcsfl__callee_name__c"`
	CallerLocation *string `json:"rcsfl__caller_location__c"`
	CalleeLocation *string `json:"rcsfl__callee_location__c"`
	FromNumber     string  `json:"rcsfl__from_number__c"`
	ToNumber       string  `json:"rcsfl__to_number__c"`
	LoggingType    string  `json:"rcsfl__RC_Logging_Type__c"`
	Extension      *string `json:"rc_extension__c"`

	WhoID  string `json:"WhoId,omitempty"`
	WhatID string `json:"WhatId,omitempty"`
}

// APIError is one entry of a CRM REST error response.
type APIError struct {
	Message   string   `json:"message"`
	ErrorCode string   `json:"errorCode"`
	Fields    []string `json:"fields,omitempty"`
}
