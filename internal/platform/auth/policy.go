package auth

import (
	"github.com/google/uuid"

	"github.com/clinicore/clinicore/pkg/apperror"
)

// Action names a guarded scheduling operation.
type Action string

const (
	ActionSlotManage     Action = "slot:manage"
	ActionSlotView       Action = "slot:view"
	ActionApptBook       Action = "appointment:book"
	ActionApptView       Action = "appointment:view"
	ActionApptConfirm    Action = "appointment:confirm"
	ActionApptCancel     Action = "appointment:cancel"
	ActionApptReschedule Action = "appointment:reschedule"
	ActionApptComplete   Action = "appointment:complete"
)

// Resource carries the parties attached to the record being acted on.
// Fields irrelevant to an action stay zero.
type Resource struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
}

// relation is the tie an actor must hold to the resource for a grant.
type relation int

const (
	relAny            relation = iota
	relPatientSelf             // actor must be the patient on the record
	relAssignedDoctor          // actor must be the appointment's doctor
	relOwningDoctor            // actor must own the availability slot
)

// policyTable is the complete rule set. A missing action or role entry
// denies: new operations must be granted here explicitly. Note the
// absence of RoleAdmin from confirm and complete — those transitions
// belong to the treating doctor alone.
var policyTable = map[Action]map[Role]relation{
	ActionSlotManage: {
		RoleDoctor: relOwningDoctor,
		RoleAdmin:  relAny,
	},
	ActionSlotView: {
		RolePatient: relAny,
		RoleDoctor:  relAny,
		RoleAdmin:   relAny,
	},
	ActionApptBook: {
		RolePatient: relPatientSelf,
		RoleAdmin:   relAny,
	},
	ActionApptView: {
		RolePatient: relPatientSelf,
		RoleDoctor:  relAssignedDoctor,
		RoleAdmin:   relAny,
	},
	ActionApptConfirm: {
		RoleDoctor: relAssignedDoctor,
	},
	ActionApptCancel: {
		RolePatient: relPatientSelf,
		RoleDoctor:  relAssignedDoctor,
		RoleAdmin:   relAny,
	},
	ActionApptReschedule: {
		RolePatient: relPatientSelf,
		RoleAdmin:   relAny,
	},
	ActionApptComplete: {
		RoleDoctor: relAssignedDoctor,
	},
}

// Authorize decides whether actor may perform action on the resource.
// It returns nil on grant, or an authorization error describing the
// refusal. Unknown actions and unlisted roles deny.
func Authorize(actor Actor, action Action, res Resource) error {
	rules, ok := policyTable[action]
	if !ok {
		return apperror.RoleDenied("no policy for " + string(action))
	}
	rel, ok := rules[actor.Role]
	if !ok {
		return apperror.Newf(apperror.KindAuthorization, apperror.CodeRoleDenied,
			"role %s may not perform %s", actor.Role, action)
	}

	switch rel {
	case relPatientSelf:
		if res.PatientID != actor.ID {
			return apperror.Newf(apperror.KindAuthorization, apperror.CodeNotOwner,
				"%s: not the patient of record", action)
		}
	case relAssignedDoctor:
		if res.DoctorID != actor.ID {
			return apperror.Newf(apperror.KindAuthorization, apperror.CodeNotAssignedDoctor,
				"%s: not the assigned doctor", action)
		}
	case relOwningDoctor:
		if res.DoctorID != actor.ID {
			return apperror.Newf(apperror.KindAuthorization, apperror.CodeNotOwner,
				"%s: slot belongs to another doctor", action)
		}
	}

	return nil
}
