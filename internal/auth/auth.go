package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"visionchat_go_backend/internal/models"
	"visionchat_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

// SessionHeader carries the opaque session token every caller (anonymous or
// not) presents; it keys the orchestrator's per-session state.
const SessionHeader = "X-Session-Token"

func SetupRoutes(r *gin.Engine, userStore services.UserStore, secret string) {
	auth := r.Group("/auth")
	{
		auth.GET("/user", AuthMiddleware(userStore, secret), getUser)
	}
}

// AuthMiddleware requires a valid bearer token and puts the upserted user
// in the context.
func AuthMiddleware(userStore services.UserStore, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := userFromRequest(c, userStore, secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

// OptionalAuthMiddleware admits anonymous callers: when a bearer token is
// present and valid the user lands in the context, otherwise the request
// proceeds without one.
func OptionalAuthMiddleware(userStore services.UserStore, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != "" {
			if user, err := userFromRequest(c, userStore, secret); err == nil {
				c.Set("user", user)
			}
		}
		c.Next()
	}
}

func userFromRequest(c *gin.Context, userStore services.UserStore, secret string) (*models.User, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, errors.New("authorization header is required")
	}

	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 {
		return nil, errors.New("invalid authorization header")
	}

	claims, err := verifyToken(bearerToken[1], secret)
	if err != nil {
		return nil, err
	}

	subjectID, _ := claims["sub"].(string)
	if subjectID == "" {
		return nil, errors.New("token carries no subject")
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	user, err := userStore.CreateOrUpdateUser(subjectID, email, name)
	if err != nil {
		return nil, errors.New("failed to process user information")
	}
	return user, nil
}

func getUser(c *gin.Context) {
	user, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found in context"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func verifyToken(tokenString, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
