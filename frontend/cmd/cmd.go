package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	ishell "github.com/abiosoft/ishell"
	"github.com/common-nighthawk/go-figure"

	"github.com/ebalkanci/habita/client"
	"github.com/ebalkanci/habita/lib/utils"
	"github.com/ebalkanci/habita/models"
)

// guestCommands is a slice of Command structures containing commands that are available to users who have not logged in.
var guestCommands []Command

// userCommands is a slice of Command structures containing commands that are available only to logged in users.
var userCommands []Command

// commonCommands is a slice of Command structures containing commands that are available to all users, regardless of their login status.
var commonCommands []Command

// loggedIn is a boolean variable that indicates whether a user is currently logged in. It is true when a user is logged in and false otherwise.
var loggedIn bool

// shell represents an instance of the interactive shell used for this application. Users can interact with the application by executing commands on this shell.
var shell *ishell.Shell

// The Command struct defines a user command in the system. Each command has a Name, a Desc (short for description), and a Func (the function to execute when the command is called).
type Command struct {
	Name string                  // Name is the name of the command.
	Desc string                  // Desc is a short description of what the command does.
	Func func(c *ishell.Context) // Func is the function that is executed when the command is invoked.
}

// categories and difficulties are the accepted answers when prompting
// for a new habit.
var categories = []string{"water", "exercise", "reading", "meditation", "custom"}
var difficulties = []string{"easy", "medium", "hard"}

// switchToUserCommands swaps the guest command set out for the signed in set.
func switchToUserCommands() {
	loggedIn = true
	for _, command := range guestCommands {
		shell.DeleteCmd(command.Name)
	}
	addCommands(shell, userCommands)
}

// switchToGuestCommands swaps the signed in command set out for the guest set.
func switchToGuestCommands() {
	loggedIn = false
	for _, command := range userCommands {
		shell.DeleteCmd(command.Name)
	}
	addCommands(shell, guestCommands)
}

// handleSessionError reports an error from the client, dropping back to
// the guest commands when the session has expired.
func handleSessionError(err error) {
	if err.Error() == "expired refresh token" {
		utils.PrintError("Session expired, please sign in again by typing 'signin' in the terminal.")
		client.ClearKeyring()
		switchToGuestCommands()
		return
	}
	utils.PrintError(err.Error())
}

// promptChoice keeps asking until the answer is one of the given options.
func promptChoice(c *ishell.Context, prompt string, options []string) string {
	for {
		c.Printf("%s (%s): ", prompt, strings.Join(options, "/"))
		answer := strings.ToLower(strings.TrimSpace(c.ReadLine()))
		for _, option := range options {
			if answer == option {
				return answer
			}
		}
		c.Println("Please pick one of: " + strings.Join(options, ", "))
	}
}

// pickHabit lists the user's habits and prompts for a number.
// It returns nil if the user has no habits or the listing failed.
func pickHabit(c *ishell.Context) *models.Habit {
	habits, err := client.ListHabits()
	if err != nil {
		handleSessionError(err)
		return nil
	}

	if len(habits) == 0 {
		c.Println("You have no habits yet. Create one with 'newhabit'.")
		return nil
	}

	for i, habit := range habits {
		c.Printf("  %d) %s\n", i+1, formatHabitLine(habit))
	}

	for {
		c.Print("Pick a habit by number: ")
		answer := strings.TrimSpace(c.ReadLine())
		index, err := strconv.Atoi(answer)
		if err == nil && index >= 1 && index <= len(habits) {
			return &habits[index-1]
		}
		c.Printf("Please enter a number between 1 and %d.\n", len(habits))
	}
}

// formatHabitLine renders one habit as a single list line.
func formatHabitLine(habit models.Habit) string {
	line := fmt.Sprintf("%s [%s, %s]", habit.Name, habit.Category, habit.Difficulty)
	if habit.Streak > 0 {
		line += fmt.Sprintf(" - streak %d", habit.Streak)
	}
	if habit.IsCompleted {
		line += " - done today"
	}
	if habit.TargetValue > 0 {
		line += fmt.Sprintf(" - %.1f/%.1f %s", habit.CurrentValue, habit.TargetValue, habit.Unit)
	}
	return line
}

// InitCmd is a function that initializes the shell commands.
// It initializes the shell and sets up the commands for guest and user scenarios.
func InitCmd() {

	// Initialize shell
	shell = ishell.New()

	// Define the commands available to a guest user (not signed in)
	guestCommands = []Command{
		{
			Name: "signin",
			Desc: "Sign in to your account",
			Func: func(c *ishell.Context) {
				var username, password string
				for {
					c.Print("Enter Username: ")
					username = c.ReadLine()

					if len(username) > 1 {
						break
					}
					c.Println("Username must be longer than 1 character.")
				}

				for {
					c.Print("Enter Password: ")
					password = c.ReadPassword()

					if len(password) > 0 {
						break
					}
					c.Println("Password cannot be empty.")
				}

				_, _, err := client.SignIn(username, password)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Welcome, you are now signed in.")
				switchToUserCommands()
			},
		},
		{
			Name: "signup",
			Desc: "Sign up for a new account",
			Func: func(c *ishell.Context) {
				var username, email, password string
				for {
					c.Print("Enter Username: ")
					username = c.ReadLine()

					if len(username) > 1 {
						break
					}
					c.Println("Username must be longer than 1 character.")
				}

				for {
					c.Print("Enter Email: ")
					email = c.ReadLine()

					if utils.ValidateEmail(email) {
						break
					}
					c.Println("Email is not valid.")
				}

				for {
					c.Print("Enter Password: ")
					password = c.ReadPassword()

					if utils.ValidatePassword(password) {
						c.Print("Confirm Password: ")
						confirmPassword := c.ReadPassword()

						if password == confirmPassword {
							break
						} else {
							c.Println()
							c.Println("Passwords do not match. Please try again.")
							c.Println()
						}
					} else {
						c.Println()
						c.Println("Password must be at least 8 characters and contain both letters and numbers.")
						c.Println()
					}
				}

				_, _, err := client.SignUp(username, email, password)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Account created successfully. You are now signed in.")
				c.Println("Please check your email and confirm your account using the 'confirm' command.")
				switchToUserCommands()
			},
		},
	}

	// Define the commands available to a signed in user
	userCommands = []Command{
		{
			Name: "habits",
			Desc: "List your habits",
			Func: func(c *ishell.Context) {
				habits, err := client.ListHabits()
				if err != nil {
					handleSessionError(err)
					return
				}

				if len(habits) == 0 {
					c.Println("You have no habits yet. Create one with 'newhabit'.")
					return
				}

				c.Println("Your habits:")
				for _, habit := range habits {
					c.Println("  |-- " + formatHabitLine(habit))
				}
				c.Println()
			},
		},
		{
			Name: "newhabit",
			Desc: "Create a new habit",
			Func: func(c *ishell.Context) {
				var name string
				for {
					c.Print("Enter Habit Name: ")
					name = strings.TrimSpace(c.ReadLine())
					if len(name) > 0 {
						break
					}
					c.Println("Habit name cannot be empty.")
				}

				c.Print("Enter Description (optional): ")
				description := strings.TrimSpace(c.ReadLine())

				category := promptChoice(c, "Category", categories)
				difficulty := promptChoice(c, "Difficulty", difficulties)

				habit := models.Habit{
					Name:        name,
					Description: description,
					Category:    models.Category(category),
					Difficulty:  models.Difficulty(difficulty),
				}

				for {
					c.Print("Enter a daily target value (or leave empty): ")
					answer := strings.TrimSpace(c.ReadLine())
					if answer == "" {
						break
					}
					target, err := strconv.ParseFloat(answer, 64)
					if err == nil && target > 0 {
						habit.TargetValue = target
						c.Print("Enter the unit (e.g. glasses, minutes): ")
						habit.Unit = strings.TrimSpace(c.ReadLine())
						break
					}
					c.Println("Target must be a positive number.")
				}

				result, err := client.CreateHabit(habit)
				if err != nil {
					handleSessionError(err)
					return
				}

				c.Printf("Habit '%s' created.\n", result.Habit.Name)
				for _, achievement := range result.Unlocked {
					client.PrintBanner(fmt.Sprintf("achievement unlocked: %s (+%d XP)", achievement.Title, achievement.XPReward))
				}
			},
		},
		{
			Name: "done",
			Desc: "Mark a habit as completed for today",
			Func: func(c *ishell.Context) {
				habit := pickHabit(c)
				if habit == nil {
					return
				}

				var value *float64
				if habit.TargetValue > 0 {
					for {
						c.Printf("Enter today's %s (or leave empty): ", habit.Unit)
						answer := strings.TrimSpace(c.ReadLine())
						if answer == "" {
							break
						}
						parsed, err := strconv.ParseFloat(answer, 64)
						if err == nil {
							value = &parsed
							break
						}
						c.Println("Please enter a number.")
					}
				}

				result, err := client.CompleteHabit(habit.ID.Hex(), value)
				if err != nil {
					handleSessionError(err)
					return
				}

				if result.AlreadyCompleted {
					c.Println("Already completed today. Come back tomorrow!")
					return
				}

				c.Printf("Nice! Streak is now %d (+%d XP).\n", result.Habit.Streak, result.XPAwarded)
				for _, achievement := range result.Unlocked {
					client.PrintBanner(fmt.Sprintf("achievement unlocked: %s (+%d XP)", achievement.Title, achievement.XPReward))
				}
			},
		},
		{
			Name: "edithabit",
			Desc: "Edit a habit's name, description or appearance",
			Func: func(c *ishell.Context) {
				habit := pickHabit(c)
				if habit == nil {
					return
				}

				fields := map[string]interface{}{}

				c.Print("New name (leave empty to keep): ")
				if name := strings.TrimSpace(c.ReadLine()); name != "" {
					fields["name"] = name
				}

				c.Print("New description (leave empty to keep): ")
				if description := strings.TrimSpace(c.ReadLine()); description != "" {
					fields["description"] = description
				}

				c.Print("New color (leave empty to keep): ")
				if color := strings.TrimSpace(c.ReadLine()); color != "" {
					fields["color"] = color
				}

				if answer := promptChoice(c, "Change difficulty?", []string{"yes", "no"}); answer == "yes" {
					fields["difficulty"] = promptChoice(c, "Difficulty", difficulties)
				}

				if len(fields) == 0 {
					c.Println("Nothing to update.")
					return
				}

				if err := client.UpdateHabit(habit.ID.Hex(), fields); err != nil {
					handleSessionError(err)
					return
				}
				c.Println("Habit updated.")
			},
		},
		{
			Name: "removehabit",
			Desc: "Delete a habit",
			Func: func(c *ishell.Context) {
				habit := pickHabit(c)
				if habit == nil {
					return
				}

				if answer := promptChoice(c, "Are you sure you want to delete '"+habit.Name+"'?", []string{"yes", "no"}); answer == "no" {
					return
				}

				if err := client.DeleteHabit(habit.ID.Hex()); err != nil {
					handleSessionError(err)
					return
				}
				c.Println("Habit deleted.")
			},
		},
		{
			Name: "stats",
			Desc: "Show your habit statistics",
			Func: func(c *ishell.Context) {
				stats, err := client.GetStats()
				if err != nil {
					handleSessionError(err)
					return
				}

				c.Println("Your stats:")
				c.Printf("  |-- total habits: %d\n", stats.TotalHabits)
				c.Printf("  |-- active streaks: %d\n", stats.ActiveHabits)
				c.Printf("  |-- completed today: %d\n", stats.CompletedToday)
				c.Printf("  |-- combined streak: %d\n", stats.StreakSum)
				c.Printf("  |-- longest streak ever: %d\n", stats.LongestStreak)
				if len(stats.ByCategory) > 0 {
					c.Println("  |-- by category:")
					for category, count := range stats.ByCategory {
						c.Printf("      |-- %s: %d\n", category, count)
					}
				}
				c.Println()
			},
		},
		{
			Name: "achievements",
			Desc: "Show the achievement catalog and your unlocks",
			Func: func(c *ishell.Context) {
				achievements, err := client.GetAchievements()
				if err != nil {
					handleSessionError(err)
					return
				}

				c.Println("Achievements:")
				for _, achievement := range achievements {
					marker := "[ ]"
					if achievement.IsUnlocked {
						marker = "[x]"
					}
					c.Printf("  %s %s %s (%s, +%d XP) - %s\n",
						marker, achievement.Icon, achievement.Title,
						achievement.Rarity, achievement.XPReward, achievement.Description)
				}
				c.Println()
			},
		},
		{
			Name: "profile",
			Desc: "Show your profile and level",
			Func: func(c *ishell.Context) {
				profile, err := client.GetProfile()
				if err != nil {
					handleSessionError(err)
					return
				}

				c.Printf("Profile of %s:\n", profile.User.Username)
				c.Printf("  |-- level: %d (%d/%d XP)\n", profile.Level, profile.LevelXP, profile.LevelSpan)
				c.Printf("  |-- total experience: %d\n", profile.User.Experience)
				c.Printf("  |-- longest streak: %d\n", profile.User.LongestStreak)
				c.Printf("  |-- habits: %d\n", profile.User.TotalHabits)
				c.Printf("  |-- achievements unlocked: %d\n", len(profile.User.Achievements))
				if !profile.User.EmailConfirmed {
					c.Println("  |-- email not confirmed yet. Use the 'confirm' command.")
				}
				c.Println()
			},
		},
		{
			Name: "updatemyacc",
			Desc: "Update your account information",
			Func: func(c *ishell.Context) {
				var currentPassword, newUsername, newEmail, newPassword string

				for {
					c.Print("Enter Current Password: ")
					currentPassword = c.ReadPassword()

					if len(currentPassword) > 0 {
						break
					}
					c.Println("Current password cannot be empty.")
				}

				if answer := promptChoice(c, "Do you want to update your username?", []string{"yes", "no"}); answer == "yes" {
					for {
						c.Print("Enter New Username: ")
						newUsername = c.ReadLine()

						if len(newUsername) > 1 {
							break
						}
						c.Println("New username must be longer than 1 character.")
					}
				}

				if answer := promptChoice(c, "Do you want to update your email?", []string{"yes", "no"}); answer == "yes" {
					for {
						c.Print("Enter New Email: ")
						newEmail = c.ReadLine()

						if utils.ValidateEmail(newEmail) {
							break
						}
						c.Println("New email is not valid.")
					}
				}

				if answer := promptChoice(c, "Do you want to update your password?", []string{"yes", "no"}); answer == "yes" {
					for {
						c.Print("Enter New Password: ")
						newPassword = c.ReadPassword()

						if utils.ValidatePassword(newPassword) {
							c.Print("Confirm New Password: ")
							confirmPassword := c.ReadPassword()

							if newPassword == confirmPassword {
								break
							}
							c.Println()
							c.Println("Passwords do not match. Please try again.")
							c.Println()
						} else {
							c.Println()
							c.Println("New password must be at least 8 characters and contain both letters and numbers.")
							c.Println()
						}
					}
				}

				err := client.UpdateUser(currentPassword, newUsername, newEmail, newPassword)
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Println("Account updated successfully.")
			},
		},
		{
			Name: "confirm",
			Desc: "Confirm your account with the token sent to your email",
			Func: func(c *ishell.Context) {
				c.Print("Enter the confirmation token from your email: ")
				token := c.ReadLine()

				err := client.ConfirmEmail(token)
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Println("Account activated successfully. You can now access all features.")
			},
		},
		{
			Name: "signout",
			Desc: "Sign out from your account",
			Func: func(c *ishell.Context) {
				err := client.SignOut()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("You are now signed out.")
				switchToGuestCommands()
			},
		},
		{
			Name: "deletemyacc",
			Desc: "Delete your account",
			Func: func(c *ishell.Context) {
				if answer := promptChoice(c, "Are you sure you want to delete your account?", []string{"yes", "no"}); answer == "no" {
					return
				}

				err := client.DeleteUser()
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Println("Account deleted successfully.")
				switchToGuestCommands()
			},
		},
	}

	// Define common commands that are always available, regardless of login state
	commonCommands = []Command{
		{
			Name: "exit",
			Desc: "Exit the application",
			Func: func(c *ishell.Context) {
				fmt.Println("Goodbye!")
				os.Exit(0)
			},
		},
	}

	// The help command is created separately to avoid the cyclic dependency
	commonCommands = append(commonCommands, Command{
		Name: "help",
		Desc: "List available commands",
		Func: func(c *ishell.Context) {
			c.Println("Available commands:")
			if loggedIn {
				for _, command := range userCommands {
					c.Println("  |-- '" + command.Name + "' : " + command.Desc)
				}
			} else {
				for _, command := range guestCommands {
					c.Println("  |-- '" + command.Name + "' : " + command.Desc)
				}
			}
			for _, command := range commonCommands {
				c.Println("  |-- '" + command.Name + "' : " + command.Desc)
			}
			c.Println()
		},
	})
}

// addCommands is a helper function that adds the given commands to the shell.
//
// It accepts two arguments:
// - shell: The ishell shell where the commands will be added.
// - commands: A slice of Command structs to be added to the shell.
func addCommands(shell *ishell.Shell, commands []Command) {
	for _, command := range commands {
		shell.AddCmd(&ishell.Cmd{
			Name: command.Name,
			Help: "Command: " + command.Name,
			Func: command.Func,
		})
	}
}

// Execute is the main function that executes the shell.
// It welcomes the user, adds common and guest commands to the shell, and runs the shell.
func Execute() {
	shell.Println()
	figure.NewFigure("Habita", "basic", true).Print()
	shell.Println("Welcome to Habita -- the habit tracker CLI app. Type 'help' to see a list of commands.")

	addCommands(shell, commonCommands)
	addCommands(shell, guestCommands)

	shell.Run()
}
