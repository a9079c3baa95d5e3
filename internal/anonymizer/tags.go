package anonymizer

import "github.com/suyashkumar/dicom/pkg/tag"

// IdentitySourceTags are read from each record before transformation; their
// values seed the free-text scrubber's name list for that record. Any other
// PN field does too. Institution and station names are not person names and
// stay out of the list.
var IdentitySourceTags = []tag.Tag{
	// Patient
	tag.PatientName,
	tag.OtherPatientNames,
	tag.PatientBirthName,
	tag.PatientMotherBirthName,

	// Physicians and staff
	tag.ReferringPhysicianName,
	tag.PerformingPhysicianName,
	tag.OperatorsName,
	tag.PhysiciansOfRecord,
	tag.NameOfPhysiciansReadingStudy,
	tag.RequestingPhysician,
	tag.ScheduledPerformingPhysicianName,
}

// Patient identity fields used to derive the patient key.
var (
	patientIDTag   = tag.PatientID
	patientNameTag = tag.PatientName
	patientDOBTag  = tag.PatientBirthDate
)
