package api

import (
	stderrors "errors"
	"io"
	"net/http"

	"visionchat_go_backend/internal/auth"
	"visionchat_go_backend/internal/errors"
	"visionchat_go_backend/internal/models"
	"visionchat_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func SetupRoutes(
	r *gin.Engine,
	orchestrator *services.ChatOrchestrator,
	fileService *services.FileService,
	chatStore services.ChatStore,
	userStore services.UserStore,
	jwtSecret string,
) {
	required := auth.AuthMiddleware(userStore, jwtSecret)
	optional := auth.OptionalAuthMiddleware(userStore, jwtSecret)

	api := r.Group("/api")
	{
		api.POST("/chat/message", optional, sendMessageHandler(orchestrator))
		api.GET("/chats", required, listChatsHandler(orchestrator))
		api.POST("/chats", optional, createChatHandler(orchestrator))
		api.GET("/chats/:id/messages", optional, chatMessagesHandler(orchestrator))
		api.DELETE("/chats/:id", optional, deleteChatHandler(orchestrator))
		api.GET("/chats/:id/files", required, chatFilesHandler(chatStore))
		api.POST("/files/upload", required, uploadFileHandler(orchestrator, fileService))
		api.POST("/ocr/url", optional, ocrURLHandler(fileService))
		api.POST("/ocr/file", optional, ocrFileHandler(fileService))
		api.DELETE("/session", optional, endSessionHandler(orchestrator))
	}
}

// sessionToken is required for every conversation operation: it keys the
// orchestrator's state for anonymous and authenticated callers alike.
func sessionToken(c *gin.Context) (string, bool) {
	token := c.GetHeader(auth.SessionHeader)
	if token == "" {
		errors.HandleError(c, errors.New400Error("A session token is required"))
		return "", false
	}
	return token, true
}

func sessionUser(c *gin.Context) *models.User {
	v, exists := c.Get("user")
	if !exists {
		return nil
	}
	user, ok := v.(*models.User)
	if !ok {
		return nil
	}
	return user
}

// bindSession resolves the session token and, for authenticated callers,
// makes sure the orchestrator session carries the user.
func bindSession(c *gin.Context, orchestrator *services.ChatOrchestrator) (string, bool) {
	token, ok := sessionToken(c)
	if !ok {
		return "", false
	}
	if user := sessionUser(c); user != nil {
		if err := orchestrator.EnsureUser(token, user); err != nil {
			errors.HandleError(c, errors.New500Error(err))
			return "", false
		}
	}
	return token, true
}

func sendMessageHandler(orchestrator *services.ChatOrchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Content string `json:"content" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			errors.HandleError(c, errors.New400Error(err.Error()))
			return
		}

		token, ok := bindSession(c, orchestrator)
		if !ok {
			return
		}

		userMsg, assistantMsg, err := orchestrator.SendMessage(c.Request.Context(), token, request.Content)
		if err != nil {
			switch {
			case stderrors.Is(err, services.ErrQuotaExceeded):
				errors.HandleError(c, errors.NewQuotaError("Please sign in to continue chatting"))
			default:
				errors.HandleError(c, errors.New500Error(err))
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user_message":      userMsg,
			"assistant_message": assistantMsg,
		})
	}
}

func listChatsHandler(orchestrator *services.ChatOrchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bindSession(c, orchestrator)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"chats": orchestrator.Chats(token)})
	}
}

func createChatHandler(orchestrator *services.ChatOrchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bindSession(c, orchestrator)
		if !ok {
			return
		}
		chatID, err := orchestrator.CreateNewChat(token)
		if err != nil {
			errors.HandleError(c, errors.New500Error(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"chat_id": chatID})
	}
}

func chatMessagesHandler(orchestrator *services.ChatOrchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bindSession(c, orchestrator)
		if !ok {
			return
		}
		chatID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			errors.HandleError(c, errors.New400Error("Invalid chat id"))
			return
		}
		if err := orchestrator.SelectChat(token, chatID); err != nil {
			if stderrors.Is(err, services.ErrChatNotFound) {
				errors.HandleError(c, errors.New404Error("Chat not found"))
				return
			}
			errors.HandleError(c, errors.New500Error(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": orchestrator.Messages(token)})
	}
}

func deleteChatHandler(orchestrator *services.ChatOrchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bindSession(c, orchestrator)
		if !ok {
			return
		}
		chatID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			errors.HandleError(c, errors.New400Error("Invalid chat id"))
			return
		}

		if err := orchestrator.DeleteChat(token, chatID); err != nil {
			switch {
			case stderrors.Is(err, services.ErrChatNotFound):
				errors.HandleError(c, errors.New404Error("Chat not found"))
			case stderrors.Is(err, services.ErrPartialDeletion):
				errors.HandleError(c, errors.NewPartialDeletionError(err))
			default:
				errors.HandleError(c, errors.New500Error(err))
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": chatID})
	}
}

func chatFilesHandler(chatStore services.ChatStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := sessionUser(c)
		if user == nil {
			errors.HandleError(c, errors.New401Error())
			return
		}
		chatID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			errors.HandleError(c, errors.New400Error("Invalid chat id"))
			return
		}
		files, err := chatStore.FilesByChat(user.ID, chatID)
		if err != nil {
			if stderrors.Is(err, services.ErrChatNotFound) {
				errors.HandleError(c, errors.New404Error("Chat not found"))
				return
			}
			errors.HandleError(c, errors.New500Error(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"files": files})
	}
}

func uploadFileHandler(orchestrator *services.ChatOrchestrator, fileService *services.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bindSession(c, orchestrator)
		if !ok {
			return
		}
		user := sessionUser(c)
		if user == nil {
			errors.HandleError(c, errors.New401Error())
			return
		}

		chatID, chatSelected := orchestrator.CurrentChatID(token)
		if id := c.PostForm("chat_id"); id != "" {
			parsed, err := uuid.Parse(id)
			if err != nil {
				errors.HandleError(c, errors.New400Error("Invalid chat id"))
				return
			}
			chatID, chatSelected = parsed, true
		}
		if !chatSelected {
			errors.HandleError(c, errors.New400Error("No chat selected for the upload"))
			return
		}

		meta, data, err := readUploadedFile(c)
		if err != nil {
			errors.HandleError(c, errors.New400Error(err.Error()))
			return
		}

		result, err := fileService.ProcessUpload(c.Request.Context(), user.ID, chatID, meta, data)
		if err != nil {
			handleIntakeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"text":    result.Text,
			"file_id": result.FileID,
		})
	}
}

func ocrURLHandler(fileService *services.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			URL string `json:"url" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			errors.HandleError(c, errors.New400Error(err.Error()))
			return
		}

		text, err := fileService.DirectOCRURL(c.Request.Context(), request.URL)
		if err != nil {
			handleExtractionError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"text": text})
	}
}

func ocrFileHandler(fileService *services.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		meta, data, err := readUploadedFile(c)
		if err != nil {
			errors.HandleError(c, errors.New400Error(err.Error()))
			return
		}

		text, err := fileService.DirectOCRFile(c.Request.Context(), meta, data)
		if err != nil {
			handleIntakeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"text": text})
	}
}

func endSessionHandler(orchestrator *services.ChatOrchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := sessionToken(c)
		if !ok {
			return
		}
		orchestrator.EndSession(token)
		c.JSON(http.StatusOK, gin.H{"ended": true})
	}
}

func readUploadedFile(c *gin.Context) (services.FileMeta, []byte, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return services.FileMeta{}, nil, err
	}
	f, err := fileHeader.Open()
	if err != nil {
		return services.FileMeta{}, nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return services.FileMeta{}, nil, err
	}
	meta := services.FileMeta{
		Name:        fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
	}
	return meta, data, nil
}

func handleIntakeError(c *gin.Context, err error) {
	switch {
	case stderrors.Is(err, services.ErrUnsupportedFile):
		errors.HandleError(c, errors.NewValidationError("The file type is not supported. Supported formats: PNG, JPG, JPEG, BMP, HEIC, PDF, TIFF"))
	case stderrors.Is(err, services.ErrFileTooLarge):
		errors.HandleError(c, errors.NewValidationError("The file exceeds the size limit"))
	default:
		handleExtractionError(c, err)
	}
}

// handleExtractionError keeps the failure kinds distinct so the client can
// tell a slow job from a rejected one.
func handleExtractionError(c *gin.Context, err error) {
	switch {
	case stderrors.Is(err, services.ErrPollTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": gin.H{"type": "TIMEOUT", "message": "Text recognition timed out"}})
	case stderrors.Is(err, services.ErrOperationFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"type": "OPERATION_FAILED", "message": "Text recognition failed"}})
	case stderrors.Is(err, services.ErrExtraction):
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"type": "EXTRACTION_ERROR", "message": err.Error()}})
	default:
		errors.HandleError(c, errors.New500Error(err))
	}
}
