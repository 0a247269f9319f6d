package panel

// User-facing messages. The client renders them verbatim.
const (
	MsgEmptyMessage       = "Mensaje vacío"
	MsgMessageTooLong     = "Máximo 1000 caracteres permitidos"
	MsgAlreadyVoted       = "Ya has votado este item"
	MsgNotInProject       = "No perteneces a este proyecto"
	MsgNotModerator       = "No eres moderador del proyecto"
	MsgModeratorOnly      = "Acceso exclusivo para moderador."
	MsgExpertNotInProject = "El experto no pertenece al proyecto"
	MsgEmptyTitle         = "Título vacío"
	MsgExpertRequired     = "Debes asignar un experto"
	MsgItemNotFound       = "Item no encontrado"
	MsgItemOrProject      = "Item o proyecto no encontrado"
	MsgBrainstormClosed   = "La tormenta ya está cerrada"
	MsgChatClosed         = "La tormenta de ideas para este proyecto está cerrada."
	MsgNoChatAccess       = "No tienes acceso al chat de este proyecto."
	MsgSurveyCompleted    = "Esta encuesta ya ha sido completada."
	MsgSelectionClosed    = "El proceso de selección de expertos ha finalizado."
	MsgNoCompletedSurveys = "No hay encuestas completadas."
	MsgModeratorMissing   = "El moderador seleccionado no existe."
	MsgModeratorRequired  = "Debes seleccionar un moderador."
	MsgAlreadyFinalized   = "El proceso de selección ya fue finalizado."
	MsgSurveyExists       = "El experto ya tiene una encuesta activa"
	MsgSurveyNotFound     = "Encuesta no encontrada o no tienes permiso para acceder a ella."
	MsgExpertUnknown      = "Experto no identificado"
	MsgInvalidEvaluation  = "La evaluación debe estar entre 1 y 5"
	MsgProjectNotFound    = "Proyecto no encontrado"
	MsgExpertNotFound     = "Experto no encontrado"
	MsgProjectNameEmpty   = "El nombre del proyecto es obligatorio"
)
